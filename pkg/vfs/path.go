package vfs

import (
	"strings"

	"exovisor/pkg/errs"
	"exovisor/pkg/rtc"
)

// / splitTimestamp separates a path from an optional trailing
// / "@<timespec>" qualifier, parsing the timespec against nowMsec if
// / present (ground: get_timestamp_from_path). An absent qualifier
// / resolves to nowMsec, i.e. "the current version."
func splitTimestamp(path string, nowMsec int64) (string, int64, errs.Err_t) {
	if i := strings.IndexByte(path, '@'); i >= 0 {
		spec := path[i+1:]
		t, ok := rtc.ParseTime(spec, nowMsec)
		if !ok {
			return "", 0, errs.BAD_PATH
		}
		return path[:i], t, 0
	}
	return path, nowMsec, 0
}

// / findTimeVersion walks r's history chain (newest first) until it
// / finds the newest version whose timestamp is <= timestamp, or
// / returns NOT_FOUND if the chain ends first (ground: find_time_version).
func (fs *FileSystem) findTimeVersion(r ref, timestamp int64) (ref, errs.Err_t) {
	for !r.isNil() && fs.loadRecord(r).Timestamp > timestamp {
		r = fs.loadRecord(r).NextFile
	}
	if r.isNil() {
		return ref{}, errs.NOT_FOUND
	}
	return r, 0
}

// / walkResult carries walkPath's three ground-truth out-parameters.
type walkResult struct {
	dir      ref // containing directory, if resolved
	haveDir  bool
	file     ref // resolved file, if found
	haveFile bool
	lastElem string // final path component, set when dir resolves but file doesn't
}

// / walkPath resolves path against the root, applying findTimeVersion
// / at the root and after every directory descent so that a single
// / "@timestamp" qualifier picks a consistent version of the whole
// / chain (ground: walk_path).
func (fs *FileSystem) walkPath(path string, nowMsec int64) (walkResult, errs.Err_t) {
	path, timestamp, errc := splitTimestamp(path, nowMsec)
	if errc != 0 {
		return walkResult{}, errc
	}
	path = strings.TrimLeft(path, "/")

	cur, errc := fs.findTimeVersion(fs.rootRef, timestamp)
	if errc != 0 {
		return walkResult{}, errc
	}

	var dirRef ref
	haveDir := false
	for path != "" {
		slash := strings.IndexByte(path, '/')
		var name string
		if slash < 0 {
			name, path = path, ""
		} else {
			name, path = path[:slash], path[slash+1:]
		}
		if len(name) >= MAXNAMELEN {
			return walkResult{}, errs.BAD_PATH
		}
		path = strings.TrimLeft(path, "/")

		dirRecord := fs.loadRecord(cur)
		dirRef = cur
		haveDir = true
		if dirRecord.Type != FTYPE_DIR {
			return walkResult{}, errs.NOT_FOUND
		}

		next, errc := fs.dirLookup(dirRecord, name)
		if errc != 0 {
			if errc == errs.NOT_FOUND && path == "" {
				return walkResult{dir: dirRef, haveDir: true, lastElem: name}, errs.NOT_FOUND
			}
			return walkResult{}, errc
		}
		next, errc = fs.findTimeVersion(next, timestamp)
		if errc != 0 {
			return walkResult{}, errc
		}
		cur = next
	}

	return walkResult{dir: dirRef, haveDir: haveDir, file: cur, haveFile: true}, 0
}
