package web

import (
	"bytes"
	_ "embed"
	"html/template"

	"github.com/gofiber/fiber/v2"
)

//go:embed static/index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

type pageData struct {
	Title    string
	Live     bool
	WebRTC   bool
	Export   bool
	Interval int64
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	var buf bytes.Buffer
	err := indexTmpl.Execute(&buf, pageData{
		Title:    s.cfg.Title,
		Live:     s.deps.Live != nil,
		WebRTC:   s.deps.Receiver != nil,
		Export:   s.deps.Exporter != nil,
		Interval: s.cfg.PushInterval.Milliseconds(),
	})
	if err != nil {
		return err
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}
