package page

import "unsafe"

// computeCookie derives the compile-time layout cookie: the XOR of the
// sizes and offsets of the prefix's frozen fields, per spec.md §4.1
// "Cookie computation". Both peers compute this independently from their
// own build of the Prefix struct; a mismatch means incompatible builds
// or memory corruption (I1).
func (p *Page) computeCookie() uint64 {
	var zero Prefix
	cookie := uint64(unsafe.Sizeof(zero))
	cookie ^= uint64(unsafe.Offsetof(zero.DMS)) << 1
	cookie ^= uint64(unsafe.Offsetof(zero.SegmentSize)) << 2
	cookie ^= uint64(unsafe.Offsetof(zero.SegmentToken)) << 3
	cookie ^= uint64(unsafe.Offsetof(zero.LastWords)) << 4
	cookie ^= uint64(unsafe.Offsetof(zero.Geometry)) << 5
	cookie ^= uint64(unsafe.Offsetof(zero.Hints)) << 6
	cookie ^= uint64(unsafe.Offsetof(zero.Dirty)) << 7
	cookie ^= uint64(unsafe.Offsetof(zero.Resized)) << 8
	cookie ^= uint64(unsafe.Offsetof(zero.VReady)) << 9
	cookie ^= uint64(unsafe.Offsetof(zero.AReady)) << 10
	cookie ^= uint64(unsafe.Offsetof(zero.VPending)) << 11
	cookie ^= uint64(unsafe.Offsetof(zero.APending)) << 12
	cookie ^= uint64(unsafe.Offsetof(zero.ABufUsed)) << 13
	cookie ^= uint64(unsafe.Offsetof(zero.AudioRate)) << 14
	cookie ^= uint64(unsafe.Offsetof(zero.ABufSize)) << 15
	cookie ^= uint64(unsafe.Offsetof(zero.VPTS)) << 16
	cookie ^= uint64(unsafe.Offsetof(zero.ExtMask)) << 17
	cookie ^= uint64(unsafe.Sizeof(zero.Geometry))
	cookie ^= uint64(unsafe.Sizeof(zero.Dirty))
	return cookie
}

// ExpectedCookie recomputes and returns the expected cookie for this build,
// independent of whatever value is currently stored in p.Prefix.Cookie.
func (p *Page) ExpectedCookie() uint64 {
	return p.computeCookie()
}
