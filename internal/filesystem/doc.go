/*
Package filesystem wraps the directory and file operations the miner relies
on with retry logic for NFS stale file handle errors (ESTALE).

Indexed trees frequently live on network mounts. A directory listing that
fails with ESTALE during a crawl would otherwise mark a whole subtree as
failed, so ReadDirWithRetry, StatWithRetry, LstatWithRetry and OpenWithRetry
retry with exponential backoff:

	entries, err := filesystem.ReadDirWithRetry(ctx, "/srv/docs", filesystem.DefaultRetryConfig())

Any other error is returned immediately. Backoff sleeps are abandoned when
ctx is done, so a cancelled crawl does not linger on a dead mount.

# Metrics

Operations report through the Observer interface, labelled by the volume
(watched root) a VolumeResolver maps the path to. metrics.NewFilesystemObserver
provides the Prometheus implementation; with no observer installed nothing is
recorded.
*/
package filesystem
