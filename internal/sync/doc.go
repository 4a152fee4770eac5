// Package sync mirrors Canvas course content onto the local filesystem.
//
// A course is mirrored in one of two modes. In modules mode every module
// becomes a directory holding the module's file items. In files mode the
// course file tree below the "course files" root is recreated. Either way a
// file is downloaded only when its target path does not exist yet, so a
// repeated run with everything in place performs no downloads.
//
// Content the user may not access (HTTP 403 or 404) is logged and skipped;
// any other remote error stops the run.
package sync
