package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// CheckFFmpeg reports the ffmpeg binary used for audio extraction. A
// configured path must point at an executable file; otherwise "ffmpeg" is
// resolved from PATH.
func CheckFFmpeg(configured string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Required for audio extraction",
	}

	configured = strings.TrimSpace(configured)
	if configured != "" && configured != "ffmpeg" && filepath.IsAbs(configured) {
		result.Command = configured
		info, err := os.Stat(configured)
		switch {
		case err != nil:
			result.Detail = fmt.Sprintf("configured ffmpeg %q: %v", configured, err)
		case !isExecutable(info):
			result.Detail = fmt.Sprintf("configured ffmpeg %q is not executable", configured)
		default:
			result.Available = true
		}
		return result
	}

	name := configured
	if name == "" {
		name = "ffmpeg"
	}
	if ffmpegPath, err := exec.LookPath(name); err == nil {
		result.Command = ffmpegPath
		result.Available = true
		return result
	}
	result.Command = name
	result.Detail = fmt.Sprintf("binary %q not found", name)
	return result
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
