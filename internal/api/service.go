// Package api exposes the plotter's HTTP control surface over Fiber:
// queuing G-code, reporting status, pausing/stopping, tiling a sketch
// across a grid of work coordinate systems, and starting file playback
// sessions. It is the sole HTTP-side producer into the machine's command
// queue and the sole owner of dispatcher session lifecycle from the HTTP
// side.
package api

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/plotterfw/motioncore/internal/dispatcher"
	"github.com/plotterfw/motioncore/internal/machine"
	"github.com/plotterfw/motioncore/internal/sketch"
	"github.com/plotterfw/motioncore/internal/websocket"
	"go.uber.org/zap"
)

// Service wires the Machine, Dispatcher, sketch Reader, and WebSocket hub
// into the handlers registered by SetupRoutes.
type Service struct {
	m      *machine.Machine
	disp   *dispatcher.Dispatcher
	reader *sketch.Reader
	wsHub  *websocket.Hub
	log    *zap.Logger
}

// NewService builds a Service. wsHub may be nil; the handlers store it but
// do not broadcast through it.
func NewService(m *machine.Machine, disp *dispatcher.Dispatcher, reader *sketch.Reader, wsHub *websocket.Hub, log *zap.Logger) *Service {
	return &Service{m: m, disp: disp, reader: reader, wsHub: wsHub, log: log}
}

// handleGCode enqueues raw G-code lines sent as the POST body. Per §6 this
// is the one HTTP callback that must never suspend: it tries Enqueue
// exactly once per line and rejects outright rather than polling.
func (s *Service) handleGCode(c *fiber.Ctx) error {
	if s.disp.HasSession() {
		return c.SendString("busy\n")
	}

	body := string(c.Body())
	for _, line := range splitLines(body) {
		if line == "" {
			continue
		}
		if !s.m.Enqueue(line) {
			return c.SendString(fmt.Sprintf("command queue length exceeded (%d), try again\n", s.m.MaxQueueLength))
		}
	}
	return c.SendString("ok\n")
}

type statusResponse struct {
	QueueSize        int      `json:"queue_size"`
	Active           bool     `json:"active"`
	Paused           bool     `json:"paused"`
	LimitPrimary     bool     `json:"limit_primary"`
	LimitSecondary   bool     `json:"limit_secondary"`
	Positioning      string   `json:"positioning"`
	X                float64  `json:"x"`
	Y                float64  `json:"y"`
	CoordinateSystem string   `json:"coordinate_system"`
	AdditionalInfo   []string `json:"additional_info"`
}

func (s *Service) handleStatus(c *fiber.Ctx) error {
	limitPrimary, limitSecondary := s.m.LimitStatus()
	pos := s.m.Position()
	positioning := "relative"
	if s.m.Absolute() {
		positioning = "absolute"
	}

	return c.JSON(statusResponse{
		QueueSize:        s.m.QueueLen(),
		Active:           s.m.Activated(),
		Paused:           s.m.Paused(),
		LimitPrimary:     limitPrimary,
		LimitSecondary:   limitSecondary,
		Positioning:      positioning,
		X:                pos.X,
		Y:                pos.Y,
		CoordinateSystem: s.m.CurrentCS(),
		AdditionalInfo:   s.m.Info(),
	})
}

func (s *Service) handlePause(c *fiber.Ctx) error {
	switch string(c.Body()) {
	case "true":
		s.m.SetPaused(true)
	case "false":
		s.m.SetPaused(false)
	default:
		return valueErrorResponse(c, &machine.ValueError{Msg: "pause body must be \"true\" or \"false\""})
	}
	return c.SendString("ok\n")
}

func (s *Service) handleStop(c *fiber.Ctx) error {
	s.disp.CancelSession()
	s.m.ClearQueue()
	s.m.SetPaused(false)
	return c.SendString("ok\n")
}

// handleTiling lays an n×n tile grid over the current workspace: each of
// the n² non-machine WCS slots gets an offset placing it at its grid cell,
// scaling is set to 1/n, and the first tile is selected. All of this is
// queued rather than applied directly, so it takes effect only once prior
// motion has drained.
func (s *Service) handleTiling(c *fiber.Ctx) error {
	n, err := strconv.Atoi(string(c.Body()))
	if err != nil || n < 1 || n > 3 {
		return valueErrorResponse(c, &machine.ValueError{Msg: "tiling grid size must be 1, 2, or 3"})
	}

	g := s.m.GlobalBoundaries
	cellW := (*g.XMax - *g.XMin) / float64(n)
	cellH := (*g.YMax - *g.YMin) / float64(n)

	identifiers := machine.WCSIdentifiers[1:] // skip G53
	for i := 0; i < n*n; i++ {
		row, col := i/n, i%n
		line := fmt.Sprintf("%s X%g Y%g", identifiers[i], *g.XMin+float64(col)*cellW, *g.YMin+float64(row)*cellH)
		if !s.m.Enqueue(line) {
			return c.Status(fiber.StatusServiceUnavailable).SendString(fmt.Sprintf("command queue length exceeded (%d), try again\n", s.m.MaxQueueLength))
		}
	}
	if !s.m.Enqueue(fmt.Sprintf("G51 S%g", 1.0/float64(n))) {
		return c.Status(fiber.StatusServiceUnavailable).SendString(fmt.Sprintf("command queue length exceeded (%d), try again\n", s.m.MaxQueueLength))
	}
	if !s.m.Enqueue(identifiers[0]) {
		return c.Status(fiber.StatusServiceUnavailable).SendString(fmt.Sprintf("command queue length exceeded (%d), try again\n", s.m.MaxQueueLength))
	}

	if err := s.m.SetTileGridSize(n); err != nil {
		return valueErrorResponse(c, err)
	}
	_ = s.m.SetCurrentTileIdx(1)
	return c.SendString("ok\n")
}

// handleTilingSwitch moves to an explicit tile index, or rotates to the
// next one (wrapping to 1) when the body is empty.
func (s *Service) handleTilingSwitch(c *fiber.Ctx) error {
	n := s.m.TileGridSize()
	body := string(c.Body())

	var idx int
	if body == "" {
		idx = s.m.CurrentTileIdx() + 1
		if idx > n*n {
			idx = 1
		}
	} else {
		parsed, err := strconv.Atoi(body)
		if err != nil {
			return valueErrorResponse(c, &machine.ValueError{Msg: "tile index must be an integer"})
		}
		idx = parsed
	}

	if err := s.m.SetCurrentTileIdx(idx); err != nil {
		return valueErrorResponse(c, err)
	}

	identifiers := machine.WCSIdentifiers[1:]
	if !s.m.Enqueue(identifiers[idx-1]) {
		return c.Status(fiber.StatusServiceUnavailable).SendString(fmt.Sprintf("command queue length exceeded (%d), try again\n", s.m.MaxQueueLength))
	}
	return c.SendString("ok\n")
}

type playRequest struct {
	SketchName string `json:"sketch_name"`
	Workspaces []int  `json:"workspaces"`
}

func (s *Service) handlePlay(c *fiber.Ctx) error {
	if s.disp.HasSession() {
		return c.SendString("busy\n")
	}

	var req playRequest
	if err := c.BodyParser(&req); err != nil {
		return valueErrorResponse(c, &machine.ValueError{Msg: "invalid play request body"})
	}

	sess, err := s.reader.Play(c.Context(), s.m, req.SketchName, req.Workspaces)
	if err != nil {
		return valueErrorResponse(c, &machine.ValueError{Msg: err.Error()})
	}
	s.attachAndReap(sess)
	return c.SendString("ok\n")
}

func (s *Service) handleTest(c *fiber.Ctx) error {
	if s.disp.HasSession() {
		return c.SendString("busy\n")
	}

	sess, err := s.reader.PlayTest(c.Context(), s.m)
	if err != nil {
		return valueErrorResponse(c, &machine.ValueError{Msg: err.Error()})
	}
	s.attachAndReap(sess)
	return c.SendString("ok\n")
}

func (s *Service) attachAndReap(sess *sketch.Session) {
	s.disp.AttachSession(sess)
	go func() {
		sess.Wait()
		s.disp.DetachSession(sess)
	}()
}

func valueErrorResponse(c *fiber.Ctx, err error) error {
	var verr *machine.ValueError
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusBadRequest).SendString(verr.Error() + "\n")
	}
	return c.Status(fiber.StatusBadRequest).SendString(err.Error() + "\n")
}

func splitLines(body string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(body); i++ {
		if body[i] == '\n' {
			lines = append(lines, trimCR(body[start:i]))
			start = i + 1
		}
	}
	if start < len(body) {
		lines = append(lines, trimCR(body[start:]))
	}
	return lines
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}
