// Package reconcile evicts cache entries the cloud no longer lists.
//
// Reconcile runs after every successful listing refresh. An entry survives
// only while its (document id, version) pair is present as a document in the
// latest tree; older versions and deleted documents are removed. Reconciliation
// takes no locks against concurrent downloads: each removal is a single
// filesystem operation and a racing store is simply re-fetched later.
//
// Refresher wraps the same pass in a periodic loop for servers that want the
// cache pruned even when no client lists files.
package reconcile
