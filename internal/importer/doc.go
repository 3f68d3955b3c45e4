// Package importer loads CVR exports and ballot manifests into the store.
//
// An import is a single-owner task. Begin flips the uploaded file to IMPORTING
// and the county to IMPORTING synchronously, so the caller observes the
// county as busy before any rows change. Run then deletes the county's
// previous rows, commits new rows in batches of the configured size, and on
// failure deletes every row it wrote before recording the failure. Every
// status and result change goes through StatusUpdater, one short statement at
// a time and never inside a batch transaction, so a failed batch cannot roll
// back the failure record.
package importer
