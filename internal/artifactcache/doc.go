// Package artifactcache stores downloaded and converted documents on disk,
// one immutable file per (document id, version, format) key.
//
// Files are named {id}.{version}.{zip|pdf}. Writes go through a temp file and
// a rename so readers never see partial artifacts. The cache is advisory:
// callers treat any fault as a miss. A nil *Cache behaves as a disabled cache.
package artifactcache
