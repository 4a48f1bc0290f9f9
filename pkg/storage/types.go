package storage

import (
	imgutil "qhy5-indi/pkg/utils/image"
)

const (
	DefaultInfoFile = "info.json"

	DefaultQuality = imgutil.DefaultQuality

	DefaultFilePerm = 0664
	DefaultDirPerm  = 0755

	// DiskWarnPercent is the filesystem usage above which every save warns.
	DiskWarnPercent = 95
)
