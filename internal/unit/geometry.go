package unit

import "github.com/amigafs/trackdev/internal/trackio/proto"

// Constants per spec.md §6: "sector=512 bytes; DD track=11 sectors; HD
// track=22 sectors; cylinders=80; heads=2."
const (
	SectorSize        = 512
	DDSectorsPerTrack = 11
	HDSectorsPerTrack = 22
	Cylinders         = 80
	Heads             = 2
)

func imageSize(sectorsPerTrack int) int64 {
	return int64(sectorsPerTrack) * SectorSize * Cylinders * Heads
}

// classifyGeometry maps an image's byte size onto a supported drive kind
// and sectors-per-track, per spec.md §4.2 media insert step 2.
func classifyGeometry(size int64) (kind proto.DriveKind, sectorsPerTrack int, ok bool) {
	switch size {
	case imageSize(DDSectorsPerTrack):
		return proto.DriveDD, DDSectorsPerTrack, true
	case imageSize(HDSectorsPerTrack):
		return proto.DriveHD, HDSectorsPerTrack, true
	default:
		return 0, 0, false
	}
}
