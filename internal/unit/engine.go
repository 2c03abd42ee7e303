// Package unit implements the per-unit track buffer state machine of
// spec.md §3/§4.2: one Engine owns a backend image, its track buffer, and
// all media/write-protect/change-counter state for one virtual drive.
package unit

import (
	"io"
	"sync"
	"time"

	"github.com/amigafs/trackdev/internal/backend"
	"github.com/amigafs/trackdev/internal/cache"
	"github.com/amigafs/trackdev/internal/checksum"
	"github.com/amigafs/trackdev/internal/mfm"
	"github.com/amigafs/trackdev/internal/trackio/deverr"
	"github.com/amigafs/trackdev/internal/trackio/log"
	"github.com/amigafs/trackdev/internal/trackio/proto"
)

// MotorIdleTimeout is the motor auto-off delay of spec.md §4.2 ("a
// 2.5-second periodic tick per unit"). The original's "turn_motor_off_
// requested" flag is replaced here with a lastActivity timestamp compared
// against this timeout on every timer tick (see DESIGN.md).
const MotorIdleTimeout = 2500 * time.Millisecond

// Engine is one unit's track buffer state machine. All exported methods
// take the engine's own lock; callers (the worker, or the router's inline
// fallback) never need to lock externally.
type Engine struct {
	mu sync.Mutex

	unitID   uint32
	opener   backend.Opener
	classify func(error) backend.Kind

	cache        *cache.Cache
	cacheEnabled bool

	mfmCtx *mfm.Context

	geometry       proto.Geometry
	mediaPresent   bool
	writeProtected bool
	file           backend.Image
	filePath       string

	// Track buffer state (spec.md §3): current_track, dirty, file_pos,
	// last_checksum, ignore_checksum_once.
	currentTrack       int
	dirty              bool
	filePos            int64
	lastChecksum       uint32
	ignoreChecksumOnce bool
	buffer             []byte

	motorOn      bool
	lastActivity time.Time

	changeCounter     uint64
	changesSinceMount bool
	listeners         map[uint64]proto.ChangeListener
	nextListenerID    uint64
	legacyListener    proto.ChangeListener
	hasLegacy         bool

	rootDirTrack int
	volumeName   string
	fsSignature  [4]byte

	accesses uint64
	misses   uint64
}

// State names the three-way track buffer state of spec.md §3 for
// diagnostics and tests.
type State int

const (
	StateIdle State = iota
	StateBufHoldingTrack
	StateBufDirty
)

// Config collects an Engine's fixed construction-time dependencies.
type Config struct {
	UnitID       uint32
	Opener       backend.Opener
	Classify     func(error) backend.Kind
	Cache        *cache.Cache
	CacheEnabled bool
	RootDirTrack int // cylinder/track index of the root block, for volume re-parse on flush
}

// New builds an Engine with no media inserted.
func New(cfg Config) *Engine {
	return &Engine{
		unitID:       cfg.UnitID,
		opener:       cfg.Opener,
		classify:     cfg.Classify,
		cache:        cfg.Cache,
		cacheEnabled: cfg.CacheEnabled,
		rootDirTrack: cfg.RootDirTrack,
		currentTrack: -1,
		filePos:      -1,
		listeners:    make(map[uint64]proto.ChangeListener),
		lastActivity: time.Now(),
	}
}

// State reports the current track buffer state (spec.md §3).
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.currentTrack < 0:
		return StateIdle
	case e.dirty:
		return StateBufDirty
	default:
		return StateBufHoldingTrack
	}
}

func (e *Engine) totalTracks() int {
	return e.geometry.Cylinders * e.geometry.Heads
}

// --- validators (spec.md §4.5 "handlers share a small library of validators") ---

func (e *Engine) checkFreshnessLocked(extended bool, count uint64) error {
	if extended && count < e.changeCounter {
		return deverr.ErrDiskChanged
	}
	return nil
}

func (e *Engine) validateRangeLocked(offset, length int64) error {
	if !e.mediaPresent {
		return deverr.ErrNoMedia
	}
	if offset < 0 || offset%SectorSize != 0 {
		return deverr.ErrBadAddress
	}
	if length <= 0 || length%SectorSize != 0 {
		return deverr.ErrBadLength
	}
	if offset+length > e.geometry.DiskSize {
		return deverr.ErrBadAddress
	}
	return nil
}

func (e *Engine) enableMotorLocked() {
	e.motorOn = true
	e.lastActivity = time.Now()
}

// --- media lifecycle ---

// InsertMedia implements spec.md §4.2 "Media insert".
func (e *Engine) InsertMedia(path string, writeProtect bool) error {
	img, err := e.opener(path, writeProtect)
	if err != nil {
		return deverr.ErrNoMedia
	}
	size, err := img.Size()
	if err != nil {
		_ = img.Close()
		return deverr.ErrBadLength
	}
	kind, sectorsPerTrack, ok := classifyGeometry(size)
	if !ok {
		_ = img.Close()
		return deverr.ErrBadLength
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	trackSize := sectorsPerTrack * SectorSize
	e.buffer = make([]byte, trackSize)
	e.mfmCtx = mfm.NewContext(sectorsPerTrack)
	e.geometry = proto.Geometry{
		SectorSize:      SectorSize,
		SectorsPerTrack: sectorsPerTrack,
		Cylinders:       Cylinders,
		Heads:           Heads,
		DiskSize:        size,
		Kind:            kind,
	}
	e.file = img
	e.filePath = path
	e.writeProtected = writeProtect || img.WriteProtected()
	e.mediaPresent = true
	e.currentTrack = -1
	e.dirty = false
	e.filePos = -1
	e.changesSinceMount = false

	// Open Question (spec.md §9): gate prefill on a non-nil cache, never
	// dereference a possibly-absent cache context.
	if e.cache != nil && e.cacheEnabled && kind != proto.DriveHD && size <= e.cache.Stat().MaxBytes {
		e.prefillCacheLocked()
	}

	e.bumpChangeCounterLocked()
	log.Infof(e, "media inserted: %s (%v, %d bytes)", path, kind, size)
	return nil
}

func (e *Engine) prefillCacheLocked() {
	trackSize := len(e.buffer)
	raw := make([]byte, trackSize)
	tracks := e.totalTracks()
	for t := 0; t < tracks; t++ {
		if _, err := e.file.ReadAt(raw, int64(t)*int64(trackSize)); err != nil && err != io.EOF {
			log.Errorf(e, "prefill aborted at track %d: %v", t, err)
			return
		}
		e.cache.Store(e.unitID, t, raw, cache.Allocate)
	}
}

// Eject implements spec.md §4.2 "Eject".
func (e *Engine) Eject() error {
	e.mu.Lock()
	var flushErr error
	if e.dirty {
		flushErr = e.flushLocked()
	}

	f := e.file
	changesSinceMount := e.changesSinceMount
	e.file = nil
	e.mediaPresent = false
	e.currentTrack = -1
	e.dirty = false
	e.filePos = -1
	e.motorOn = false
	e.mu.Unlock()

	if f != nil {
		if changesSinceMount {
			_ = f.Flush()
		}
		_ = f.Close()
	}

	if e.cache != nil {
		e.cache.InvalidateUnit(e.unitID)
	}
	e.notifyChange()

	log.Infof(e, "media ejected")
	return flushErr
}

// closeAndSynthesizeEjectLocked handles a removed-medium I/O error
// encountered mid-operation (spec.md §7 recovery: "backend removal errors
// close the file and synthesize eject"). Caller must hold e.mu.
func (e *Engine) closeAndSynthesizeEjectLocked() {
	if e.file != nil {
		_ = e.file.Close()
		e.file = nil
	}
	e.mediaPresent = false
	e.motorOn = false
	e.currentTrack = -1
	e.dirty = false
	e.filePos = -1
	// Lock order is unit-then-cache (spec.md §5), so calling into the
	// cache while e.mu is held is the only permitted direction.
	if e.cache != nil {
		e.cache.InvalidateUnit(e.unitID)
	}
	e.bumpChangeCounterLocked()
}

// --- change notification ---

func (e *Engine) bumpChangeCounterLocked() {
	e.changeCounter++
	if e.hasLegacy {
		e.legacyListener()
	}
	for _, l := range e.listeners {
		l()
	}
}

func (e *Engine) notifyChange() {
	e.mu.Lock()
	e.bumpChangeCounterLocked()
	e.mu.Unlock()
}

// AddChangeListener registers l to be invoked (synchronously, from within
// the change-counter critical section) on every future change, and returns
// its id. The worker replies to the originating request at once with that
// id; the listener stays registered until a matching RemoveChangeListener or
// until the worker stops.
func (e *Engine) AddChangeListener(l proto.ChangeListener) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextListenerID
	e.nextListenerID++
	e.listeners[id] = l
	return id
}

// RemoveChangeListener unregisters a listener by id, returning whether one
// was found.
func (e *Engine) RemoveChangeListener(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.listeners[id]; !ok {
		return false
	}
	delete(e.listeners, id)
	return true
}

// SetLegacyListener implements the single-slot "Remove" command; passing
// nil clears it. It returns whether a listener was previously installed.
func (e *Engine) SetLegacyListener(l proto.ChangeListener) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	had := e.hasLegacy
	e.legacyListener = l
	e.hasLegacy = l != nil
	return had
}

// --- flush / load ---

// flushLocked implements spec.md §4.2 "Write-back (flush)". Caller must
// hold e.mu.
func (e *Engine) flushLocked() error {
	if !e.dirty {
		return nil
	}

	newSum := checksum.Of(e.buffer)
	if !e.ignoreChecksumOnce && newSum == e.lastChecksum {
		e.dirty = false
		return nil
	}

	trackSize := int64(len(e.buffer))
	off := int64(e.currentTrack) * trackSize

	if _, err := e.file.WriteAt(e.buffer, off); err != nil {
		switch e.classify(err) {
		case backend.KindWriteProtect:
			e.writeProtected = true
			return deverr.ErrWriteProtected
		case backend.KindRemoved:
			e.closeAndSynthesizeEjectLocked()
			return deverr.ErrDiskChanged
		default:
			return deverr.ErrSeekError
		}
	}

	e.filePos = off + trackSize
	if e.cache != nil {
		e.cache.Store(e.unitID, e.currentTrack, e.buffer, cache.UpdateOnly)
	}
	if e.currentTrack == 0 {
		e.refreshBootSignatureLocked()
	}
	if e.currentTrack == e.rootDirTrack {
		e.refreshVolumeInfoLocked()
	}

	e.lastChecksum = newSum
	e.dirty = false
	e.ignoreChecksumOnce = false
	e.changesSinceMount = true
	return nil
}

// refreshBootSignatureLocked re-derives the recorded filesystem signature
// from the buffer (spec.md §4.2 flush step 3). The original format's boot
// block starts with a 4-byte disk-type signature followed by a checksum;
// only the signature is captured (for diagnostics, otherwise unused), and
// the boot-block checksum is not recorded.
func (e *Engine) refreshBootSignatureLocked() {
	if len(e.buffer) >= 4 {
		copy(e.fsSignature[:], e.buffer[:4])
	}
}

// refreshVolumeInfoLocked re-parses the volume name from the root block if
// it looks valid (spec.md §4.2 flush step 3). Root-block layout beyond the
// name field is out of scope (spec.md Non-goals), so this only recovers
// enough to answer diagnostic queries.
func (e *Engine) refreshVolumeInfoLocked() {
	const nameOffset = 0x1B0
	const maxNameLen = 30
	if len(e.buffer) <= nameOffset {
		return
	}
	n := int(e.buffer[nameOffset])
	if n <= 0 || n > maxNameLen || nameOffset+1+n > len(e.buffer) {
		return
	}
	e.volumeName = string(e.buffer[nameOffset+1 : nameOffset+1+n])
}

// loadTrackLocked implements "Cache-or-backend load" (spec.md §4.2). Caller
// must hold e.mu and have already flushed any dirty buffer.
func (e *Engine) loadTrackLocked(track int) error {
	cacheable := e.cache != nil && e.cacheEnabled && e.geometry.Kind != proto.DriveHD

	if cacheable {
		e.accesses++
		if e.cache.Lookup(e.unitID, track, e.buffer) {
			e.currentTrack = track
			e.filePos = -1
			return nil
		}
		e.misses++
	}

	trackSize := int64(len(e.buffer))
	off := int64(track) * trackSize
	if _, err := e.file.ReadAt(e.buffer, off); err != nil && err != io.EOF {
		switch e.classify(err) {
		case backend.KindRemoved:
			e.closeAndSynthesizeEjectLocked()
			return deverr.ErrDiskChanged
		default:
			return deverr.ErrNoSectorHeader
		}
	}

	e.currentTrack = track
	e.filePos = off + trackSize
	if cacheable {
		e.cache.Store(e.unitID, track, e.buffer, cache.Allocate)
	}
	return nil
}

// --- Read / Write / Format ---

// Read implements spec.md §4.2 "Read".
func (e *Engine) Read(offset, length int64, out []byte, extended bool, count uint64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkFreshnessLocked(extended, count); err != nil {
		return 0, err
	}
	if err := e.validateRangeLocked(offset, length); err != nil {
		return 0, err
	}
	e.enableMotorLocked()

	trackSize := int64(len(e.buffer))
	var written int64
	for pos := offset; pos < offset+length; {
		track := int(pos / trackSize)
		trackOff := pos % trackSize
		n := trackSize - trackOff
		if remain := offset + length - pos; n > remain {
			n = remain
		}

		if e.currentTrack != track {
			if err := e.flushLocked(); err != nil {
				return written, err
			}
			if err := e.loadTrackLocked(track); err != nil {
				return written, err
			}
		}

		copy(out[written:written+n], e.buffer[trackOff:trackOff+n])
		written += n
		pos += n
	}

	if extended && int64(len(out)) > written {
		for i := written; i < int64(len(out)); i++ {
			out[i] = 0
		}
	}
	return written, nil
}

// writeRange is shared by Write and Format: Format always writes whole
// tracks, Write may write a partial track (spec.md §4.2 "Write is
// symmetrical").
func (e *Engine) writeRange(offset, length int64, in []byte, extended bool, count uint64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkFreshnessLocked(extended, count); err != nil {
		return 0, err
	}
	if err := e.validateRangeLocked(offset, length); err != nil {
		return 0, err
	}
	if e.writeProtected {
		return 0, deverr.ErrWriteProtected
	}
	e.enableMotorLocked()

	trackSize := int64(len(e.buffer))
	var written int64
	for pos := offset; pos < offset+length; {
		track := int(pos / trackSize)
		trackOff := pos % trackSize
		n := trackSize - trackOff
		if remain := offset + length - pos; n > remain {
			n = remain
		}
		wholeTrack := trackOff == 0 && n == trackSize

		if e.currentTrack != track {
			if err := e.flushLocked(); err != nil {
				return written, err
			}
			if wholeTrack {
				e.currentTrack = track
				e.filePos = -1
			} else if err := e.loadTrackLocked(track); err != nil {
				return written, err
			}
		}
		if wholeTrack {
			e.ignoreChecksumOnce = true
		}

		copy(e.buffer[trackOff:trackOff+n], in[written:written+n])
		e.dirty = true
		written += n
		pos += n
	}
	return written, nil
}

// Write implements spec.md §4.2 "Write".
func (e *Engine) Write(offset, length int64, in []byte, extended bool, count uint64) (int64, error) {
	return e.writeRange(offset, length, in, extended, count)
}

// Format implements the "Format" command (spec.md §6 "Overwrite whole
// tracks") through writeRange, as Write does. Track alignment is not
// required: full-track spans skip the load-before-overwrite path, and a
// sub-track span is merged into the loaded track (merge-then-write).
func (e *Engine) Format(offset, length int64, in []byte, extended bool, count uint64) (int64, error) {
	return e.writeRange(offset, length, in, extended, count)
}

// Update implements spec.md §4.2/§6 "Update | Flush dirty buffer". Like
// Read/Write/Format, its ETD_* extended variant fails with DiskChanged
// against a stale change counter (spec.md §6).
func (e *Engine) Update(extended bool, count uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkFreshnessLocked(extended, count); err != nil {
		return err
	}
	if !e.mediaPresent {
		return deverr.ErrNoMedia
	}
	return e.flushLocked()
}

// Clear implements "Clear | Invalidate track buffer": discard the buffer
// without writing it back. Its ETD_* extended variant fails with
// DiskChanged against a stale change counter (spec.md §6).
func (e *Engine) Clear(extended bool, count uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkFreshnessLocked(extended, count); err != nil {
		return err
	}
	e.currentTrack = -1
	e.dirty = false
	e.filePos = -1
	return nil
}

// Seek implements the nominal, validation-only "Seek" command. Its ETD_*
// extended variant fails with DiskChanged against a stale change counter
// (spec.md §6).
func (e *Engine) Seek(offset int64, extended bool, count uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkFreshnessLocked(extended, count); err != nil {
		return err
	}
	if !e.mediaPresent {
		return deverr.ErrNoMedia
	}
	if offset < 0 || offset%SectorSize != 0 {
		return deverr.ErrBadAddress
	}
	return nil
}

// Motor sets the motor state and returns its previous value. Its ETD_*
// extended variant fails with DiskChanged against a stale change counter
// (spec.md §6).
func (e *Engine) Motor(on bool, extended bool, count uint64) (previous bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkFreshnessLocked(extended, count); err != nil {
		return false, err
	}
	previous = e.motorOn
	e.motorOn = on
	if on {
		e.lastActivity = time.Now()
	}
	return previous, nil
}

// TickMotorTimeout is invoked by the unit worker's periodic timer branch
// (spec.md §4.2 "Motor timeout"). It replaces the original's
// turn_motor_off_requested flag with an idle-time comparison (see
// DESIGN.md): if the motor has been on for MotorIdleTimeout with no
// activity, flush any dirty buffer, then clear the motor and current-track.
func (e *Engine) TickMotorTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.motorOn {
		return
	}
	if time.Since(e.lastActivity) < MotorIdleTimeout {
		return
	}
	if e.dirty {
		if err := e.flushLocked(); err != nil {
			log.Errorf(e, "motor timeout flush failed: %v", err)
		}
	}
	e.motorOn = false
	e.currentTrack = -1
}

// --- status / geometry queries ---

func (e *Engine) ChangeState() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mediaPresent
}

func (e *Engine) ChangeNum() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changeCounter
}

func (e *Engine) ProtStatus() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeProtected
}

func (e *Engine) GetDriveType() proto.DriveKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.geometry.Kind
}

// GetNumTracks returns the cylinder count, matching spec.md §6's literal
// "cylinders in actual" (the addressable track space is Cylinders*Heads;
// see totalTracks).
func (e *Engine) GetNumTracks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.geometry.Cylinders
}

func (e *Engine) GetGeometry() proto.Geometry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.geometry
}

// maxRawReadLength is spec.md §6's documented RawRead bound ("length <=
// 32768").
const maxRawReadLength = 32768

// RawRead implements "RawRead | MFM-encoded track". track is carried in the
// request's Offset field per spec.md §6. Its ETD_* extended variant fails
// with DiskChanged against a stale change counter, matching the other
// commands in spec.md §6; length is bounds-checked against both the
// documented 32768-byte ceiling and the context's actual encoded track size
// (mfm.Context.EncodedSize) so a too-small caller buffer is rejected with
// BadLength instead of silently truncated.
func (e *Engine) RawRead(track int, out []byte, length int64, extended bool, count uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkFreshnessLocked(extended, count); err != nil {
		return 0, err
	}
	if !e.mediaPresent {
		return 0, deverr.ErrNoMedia
	}
	if track < 0 || track >= e.totalTracks() {
		return 0, deverr.ErrBadAddress
	}
	if length <= 0 || length > maxRawReadLength || length > int64(e.mfmCtx.EncodedSize()) {
		return 0, deverr.ErrBadLength
	}

	if e.currentTrack != track {
		if err := e.flushLocked(); err != nil {
			return 0, err
		}
		if err := e.loadTrackLocked(track); err != nil {
			return 0, err
		}
	}

	encoded, err := e.mfmCtx.EncodeTrack(track, e.buffer)
	if err != nil {
		return 0, deverr.ErrBadSectorHeader
	}
	if int64(len(encoded)) > length {
		return 0, deverr.ErrBadLength
	}
	n := copy(out, encoded)
	return n, nil
}

func (e *Engine) DeviceQuery() proto.DeviceQueryResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return proto.DeviceQueryResult{
		DeviceType:    "trackdev.device",
		DeviceSubType: 0,
		MaxTransfer: func() int {
			if len(e.buffer) == 0 {
				return 0
			}
			return len(e.buffer) * e.totalTracks()
		}(),
		Mask:      0xFFFFFFFE,
		DriveType: e.geometry.Kind,
	}
}

// SetWriteProtect implements the control-queue write-protect toggle. It
// refuses to clear protection the backend itself enforces (spec.md §7
// "ReadOnlyVolume / ReadOnlyFile — cannot remove write-protection").
func (e *Engine) SetWriteProtect(protect bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !protect && e.file != nil && e.file.WriteProtected() {
		return deverr.ErrReadOnlyFile
	}
	e.writeProtected = protect
	return nil
}

// SetCacheEnabled implements the control-queue cache-toggle command.
func (e *Engine) SetCacheEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cacheEnabled = enabled
}

// CanStop reports whether the control-queue Stop command may proceed:
// spec.md §4.3 "Stop requires absence of media".
func (e *Engine) CanStop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mediaPresent {
		return deverr.ErrDriveInUse
	}
	return nil
}

// Stats returns the cache-access counters accumulated for this unit
// (spec.md §9 supplement).
func (e *Engine) Stats() (accesses, misses uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accesses, e.misses
}

// String satisfies fmt.Stringer so the engine can be used as a log
// subject, matching the teacher's fs.Infof(who, ...) convention.
func (e *Engine) String() string {
	return "unit" + itoa(e.unitID)
}

func itoa(u uint32) string {
	if u == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[i:])
}
