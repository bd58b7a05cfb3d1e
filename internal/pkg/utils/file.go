package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SupportAudioExt checks if audio ext is supported
func SupportAudioExt(ext string) bool {
	return ext == ".wav" || ext == ".mp3" || ext == ".mp4" || ext == ".m4a"
}

// ParamTrue - returns true if string param indicates true value
func ParamTrue(prm string) bool {
	return strings.ToLower(prm) == "true" || prm == "1"
}

// MakeValidateFileName drops any directory part of fileName, normalizes it and
// prefixes with ID so that concurrent jobs sharing the same uploaded name
// never collide
func MakeValidateFileName(id, fileName string) (string, error) {
	name := filepath.Base(filepath.Clean(fileName))
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return "", fmt.Errorf("wrong file name '%s'", fileName)
	}
	name = strings.ReplaceAll(name, " ", "_")
	ext := filepath.Ext(name)
	name = strings.TrimSuffix(name, ext) + strings.ToLower(ext)
	if id == "" {
		return name, nil
	}
	return id + "_" + name, nil
}

// ValidateDownloadName rejects names that could escape the storage area
func ValidateDownloadName(name string) error {
	if name == "" {
		return fmt.Errorf("no file name")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("wrong file name '%s'", name)
	}
	return nil
}
