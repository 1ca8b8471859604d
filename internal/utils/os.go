package utils

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/eiannone/keyboard"
)

func PauseExit() {
	log.Println("Press any to exit")
	_, _, _ = keyboard.GetSingleKey()
	os.Exit(1)
}

func EXEName() string {
	path, err := Executable()
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
