// Package transport defines the upload collaborator contract and its error
// classification, plus the HTTP implementation used in production.
//
// Every error an Uploader returns is classifiable as retryable or terminal;
// the scheduler's retry policy keys off that classification. Unclassified
// errors are treated as retryable so transient unknowns get the benefit of
// the attempt budget.
package transport
