// Package objstore stores dataset archives on an S3-compatible bucket and
// hands out presigned URLs so runner-side tasks can move archives without
// credentials.
package objstore
