// Package camera owns video input devices for the capture loop.
//
// Discover lists V4L2 nodes. Open checks the node, takes an exclusive lock
// file for it, and starts an ffmpeg process that streams MJPEG frames; the
// returned Stream keeps only the newest frame and Snapshot recompresses it for
// submission. Close releases the process and the lock and is safe to call more
// than once. Monitor turns udev netlink events for video4linux into add and
// remove callbacks so captures on an unplugged device are released.
package camera
