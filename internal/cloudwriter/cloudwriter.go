// Package cloudwriter buffers objects in memory and uploads them to a bucket on Close.
package cloudwriter

import "io"

// CloudWriter receives the bytes of a single object. Nothing is uploaded until Close.
type CloudWriter interface {
	io.WriteCloser
}

// CloudWriterFactory opens a writer for objectPath in bucket.
type CloudWriterFactory interface {
	NewWriter(bucket, objectPath string) (CloudWriter, error)
}
