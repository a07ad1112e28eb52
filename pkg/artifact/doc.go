// Package artifact persists run reports. The writer lays reports out on the
// local filesystem, one directory per run; the archiver optionally ships
// those files to a remote archive host over SFTP.
package artifact
