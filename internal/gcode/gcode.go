// Package gcode parses the plotter's G-code/M-code command dialect into a
// tagged command variant, exhaustively matched by the dispatcher rather
// than tested against a bag of optional fields.
package gcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Command is implemented by every parsed command kind. It is a marker
// interface; the dispatcher type-switches on the concrete type.
type Command interface {
	isCommand()
}

// Motion is a G0 (rapid, pen up) or G1 (linear, pen down) move.
type Motion struct {
	Rapid bool
	X, Y  float64
}

func (Motion) isCommand() {}

// Positioning is a G90 (absolute) or G91 (relative) mode switch, optionally
// followed by a motion command on the same line.
type Positioning struct {
	Absolute bool
	Motion   *Motion
}

func (Positioning) isCommand() {}

// Homing is G28.
type Homing struct{}

func (Homing) isCommand() {}

// ToolChange is M6/M06.
type ToolChange struct{}

func (ToolChange) isCommand() {}

// MeasureWorkspace is M100.
type MeasureWorkspace struct{}

func (MeasureWorkspace) isCommand() {}

// MeasureStepLoss is M101.
type MeasureStepLoss struct{}

func (MeasureStepLoss) isCommand() {}

// MeasureFeedrate is M102.
type MeasureFeedrate struct{}

func (MeasureFeedrate) isCommand() {}

// UnblockLimit is M103<axis><sign>, e.g. "M103 X+".
type UnblockLimit struct {
	Axis     byte // 'X' or 'Y'
	Positive bool
}

func (UnblockLimit) isCommand() {}

// EjectWorkspace is M104.
type EjectWorkspace struct{}

func (EjectWorkspace) isCommand() {}

// WCSSet assigns an offset to a named work coordinate system, e.g.
// "G54 X10 Y-5".
type WCSSet struct {
	CS   string
	X, Y float64
}

func (WCSSet) isCommand() {}

// CSSelect selects the active coordinate system, e.g. "G55".
type CSSelect struct {
	CS string
}

func (CSSelect) isCommand() {}

// Scaling is G50 (off) or G51 S<factor> (on).
type Scaling struct {
	Enabled bool
	Factor  float64
}

func (Scaling) isCommand() {}

// ErrInvalidSyntax is returned when a line matches no known command.
type ErrInvalidSyntax struct {
	Line string
}

func (e *ErrInvalidSyntax) Error() string {
	return fmt.Sprintf("invalid G-code/M-code syntax: %q", e.Line)
}

const motionBody = `\s*G(0|1)\s*[Xx]([-]?\d+(?:\.\d+)?)\s*[Yy]([-]?\d+(?:\.\d+)?)\s*$`

var (
	motionRe          = regexp.MustCompile(`^` + motionBody)
	positioningRe     = regexp.MustCompile(`^\s*G(90|91)\s*(` + motionBody + `)?`)
	homingRe          = regexp.MustCompile(`^\s*G(28)\s*$`)
	toolChangeRe      = regexp.MustCompile(`^\s*M0?6\s*$`)
	endPosRe          = regexp.MustCompile(`^\s*M100\s*$`)
	stepLossRe        = regexp.MustCompile(`^\s*M101\s*$`)
	feedrateRe        = regexp.MustCompile(`^\s*M102\s*$`)
	unblockLimitRe    = regexp.MustCompile(`^\s*M103\s*([xXyY])\s*([+-])\s*$`)
	ejectWorkspaceRe  = regexp.MustCompile(`^\s*M104\s*$`)
	wcsSetRe          = regexp.MustCompile(`^\s*G5(4|5|6|7|8|9|9\.1|9\.2|9\.3)\s*[Xx]([-]?\d+(?:\.\d+)?)\s*[Yy]([-]?\d+(?:\.\d+)?)\s*$`)
	csSelectRe        = regexp.MustCompile(`^\s*G5(3|4|5|6|7|8|9|9\.1|9\.2|9\.3)\s*$`)
	scalingRe         = regexp.MustCompile(`^\s*G5(0|1\s*S(\d+(?:\.\d+)?))\s*$`)
)

// Parse classifies a single line of G-code/M-code text into a tagged
// Command. Matching order follows the table in the command reference:
// compound forms (positioning-with-motion, WCS-set) are tried before their
// simpler prefixes so "G90 G1 X1 Y1" isn't mistaken for a bare "G90".
func Parse(line string) (Command, error) {
	if m := positioningRe.FindStringSubmatch(line); m != nil {
		pos := Positioning{Absolute: m[1] == "90"}
		if m[2] != "" {
			x, _ := strconv.ParseFloat(m[4], 64)
			y, _ := strconv.ParseFloat(m[5], 64)
			pos.Motion = &Motion{Rapid: m[3] == "0", X: x, Y: y}
		}
		return pos, nil
	}
	if m := motionRe.FindStringSubmatch(line); m != nil {
		x, _ := strconv.ParseFloat(m[2], 64)
		y, _ := strconv.ParseFloat(m[3], 64)
		return Motion{Rapid: m[1] == "0", X: x, Y: y}, nil
	}
	if homingRe.MatchString(line) {
		return Homing{}, nil
	}
	if toolChangeRe.MatchString(line) {
		return ToolChange{}, nil
	}
	if endPosRe.MatchString(line) {
		return MeasureWorkspace{}, nil
	}
	if stepLossRe.MatchString(line) {
		return MeasureStepLoss{}, nil
	}
	if feedrateRe.MatchString(line) {
		return MeasureFeedrate{}, nil
	}
	if m := unblockLimitRe.FindStringSubmatch(line); m != nil {
		return UnblockLimit{Axis: strings.ToUpper(m[1])[0], Positive: m[2] == "+"}, nil
	}
	if ejectWorkspaceRe.MatchString(line) {
		return EjectWorkspace{}, nil
	}
	if m := wcsSetRe.FindStringSubmatch(line); m != nil {
		x, _ := strconv.ParseFloat(m[2], 64)
		y, _ := strconv.ParseFloat(m[3], 64)
		return WCSSet{CS: "G5" + m[1], X: x, Y: y}, nil
	}
	if m := csSelectRe.FindStringSubmatch(line); m != nil {
		return CSSelect{CS: "G5" + m[1]}, nil
	}
	if m := scalingRe.FindStringSubmatch(line); m != nil {
		if strings.HasPrefix(m[1], "0") {
			return Scaling{Enabled: false}, nil
		}
		factor, _ := strconv.ParseFloat(m[2], 64)
		return Scaling{Enabled: true, Factor: factor}, nil
	}

	return nil, &ErrInvalidSyntax{Line: line}
}
