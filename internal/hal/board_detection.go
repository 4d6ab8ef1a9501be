package hal

import (
	"fmt"
	"os"
	"strings"
)

type BoardModel int

const (
	BoardUnknown BoardModel = iota
	BoardRPiZero
	BoardRPiZeroW
	BoardRPiZero2W
	BoardRPi1
	BoardRPi2
	BoardRPi3
	BoardRPi3Plus
	BoardRPi4
	BoardRPi5
	BoardRPiCM3
	BoardRPiCM4
)

// BoardInfo is board identification, reported in startup log lines and the
// GPIO monitor feed, and read by config.RecommendPreset for `-preset auto`.
type BoardInfo struct {
	Model    BoardModel
	Name     string
	NumGPIO  int
	CPUCores int
	RAMSize  int
}

func DetectBoard() (*BoardInfo, error) {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return nil, fmt.Errorf("failed to read cpuinfo: %w", err)
	}

	model := extractModel(string(data))
	info := &BoardInfo{Model: model, Name: model.String(), NumGPIO: 26, CPUCores: 1, RAMSize: detectRAMSize()}

	switch model {
	case BoardRPi3, BoardRPi3Plus, BoardRPiZero2W, BoardRPiCM3:
		info.CPUCores = 4
	case BoardRPi4, BoardRPi5, BoardRPiCM4:
		info.CPUCores = 4
		info.NumGPIO = 28
	}

	return info, nil
}

func extractModel(cpuinfo string) BoardModel {
	for _, line := range strings.Split(cpuinfo, "\n") {
		if strings.HasPrefix(line, "Model") {
			if m := matchBoardModel(line); m != BoardUnknown {
				return m
			}
		}
	}
	if dtModel, err := os.ReadFile("/proc/device-tree/model"); err == nil {
		if m := matchBoardModel(string(dtModel)); m != BoardUnknown {
			return m
		}
	}
	return BoardUnknown
}

func matchBoardModel(text string) BoardModel {
	model := strings.ToLower(text)
	switch {
	case strings.Contains(model, "pi 5"):
		return BoardRPi5
	case strings.Contains(model, "pi 4"):
		return BoardRPi4
	case strings.Contains(model, "pi 3 model b+"):
		return BoardRPi3Plus
	case strings.Contains(model, "pi 3"):
		return BoardRPi3
	case strings.Contains(model, "pi 2"):
		return BoardRPi2
	case strings.Contains(model, "pi 1"), strings.Contains(model, "model b"):
		return BoardRPi1
	case strings.Contains(model, "zero 2 w"):
		return BoardRPiZero2W
	case strings.Contains(model, "zero w"):
		return BoardRPiZeroW
	case strings.Contains(model, "zero"):
		return BoardRPiZero
	case strings.Contains(model, "compute module 4"):
		return BoardRPiCM4
	case strings.Contains(model, "compute module 3"):
		return BoardRPiCM3
	}
	return BoardUnknown
}

func detectRAMSize() int {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				var kb int
				fmt.Sscanf(parts[1], "%d", &kb)
				return kb / 1024
			}
		}
	}
	return 0
}

func (b BoardModel) String() string {
	switch b {
	case BoardRPiZero:
		return "Raspberry Pi Zero"
	case BoardRPiZeroW:
		return "Raspberry Pi Zero W"
	case BoardRPiZero2W:
		return "Raspberry Pi Zero 2 W"
	case BoardRPi1:
		return "Raspberry Pi 1"
	case BoardRPi2:
		return "Raspberry Pi 2"
	case BoardRPi3:
		return "Raspberry Pi 3"
	case BoardRPi3Plus:
		return "Raspberry Pi 3 B+"
	case BoardRPi4:
		return "Raspberry Pi 4"
	case BoardRPi5:
		return "Raspberry Pi 5"
	case BoardRPiCM3:
		return "Raspberry Pi Compute Module 3"
	case BoardRPiCM4:
		return "Raspberry Pi Compute Module 4"
	default:
		return "Unknown"
	}
}
