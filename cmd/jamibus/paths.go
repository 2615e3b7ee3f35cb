package main

import "tools.zach/dev/jamibus/internal/paths"

// DataPaths aliases [paths.DataDir] so daemon code can use the path helpers
// without qualifying the internal package.
type DataPaths = paths.DataDir
