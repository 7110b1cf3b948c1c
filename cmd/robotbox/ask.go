package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/teslashibe/robotbox/internal/config"
	"github.com/teslashibe/robotbox/pkg/conversation"
	"github.com/teslashibe/robotbox/pkg/inference"
	"github.com/teslashibe/robotbox/pkg/media"
	"github.com/teslashibe/robotbox/pkg/tutor"
)

const askLongDesc = `Ask the tutor one question from the terminal.

An optional still image stands in for the camera and an optional WAV file
for push-to-talk. The reply is rendered as Markdown.

Examples:
  robotbox ask "why won't my motor spin?" --image bench.jpg
  robotbox ask --audio question.wav --save-audio reply.wav`

type askCommander struct {
	g         *globalFlags
	image     string
	audio     string
	saveAudio string
	raw       bool
}

// audioSaver keeps the last audio reply.
type audioSaver struct {
	data []byte
	mime string
}

func (a *audioSaver) PlayAudio(data []byte, mime string) {
	a.data, a.mime = media.Playable(data, mime)
}

func newAskCmd(g *globalFlags) *cobra.Command {
	c := &askCommander{g: g}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question from the terminal",
		Long:  askLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := ""
			if len(args) == 1 {
				question = args[0]
			}
			return c.run(cmd.Context(), cmd.OutOrStdout(), question)
		},
	}
	cmd.Flags().StringVarP(&c.image, "image", "i", "", "JPEG still to show the tutor")
	cmd.Flags().StringVar(&c.audio, "audio", "", "WAV recording of the question")
	cmd.Flags().StringVar(&c.saveAudio, "save-audio", "", "Write an audio reply to this WAV file")
	cmd.Flags().BoolVar(&c.raw, "raw", false, "Print the reply without Markdown rendering")
	return cmd
}

func (c *askCommander) run(ctx context.Context, out io.Writer, question string) error {
	cfg, logger, err := c.g.load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	instr, err := config.NewInstruction(cfg.Tutor.InstructionFile, tutor.SocraticInstruction, logger)
	if err != nil {
		return err
	}

	gw, err := inference.NewGemini(turnOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	defer gw.Close()

	frames := media.NewFrameBuffer(nil)
	if c.image != "" {
		data, err := os.ReadFile(c.image)
		if err != nil {
			return err
		}
		f, err := media.DecodeJPEG(data)
		if err != nil {
			return fmt.Errorf("%s: %w", c.image, err)
		}
		frames.Publish(f)
	}

	var clip *media.Clip
	if c.audio != "" {
		data, err := os.ReadFile(c.audio)
		if err != nil {
			return err
		}
		clip = &media.Clip{Data: data, MIMEType: audioMIME(c.audio)}
	}

	saver := &audioSaver{}
	t := tutor.New(gw, conversation.NewSession(),
		tutor.WithInstruction(instr.Text),
		tutor.WithFrames(frames),
		tutor.WithBuilder(tutor.NewBuilder(gw.Capabilities(), jpegOptions(cfg), false)),
		tutor.WithSinks(nil, saver, nil),
		tutor.WithLogger(logger),
	)

	ex, err := t.Ask(ctx, question, clip)
	if err != nil {
		return err
	}

	var reply strings.Builder
	for _, r := range ex.Replies {
		reply.WriteString(r.Text)
		reply.WriteString("\n\n")
	}
	if err := render(out, reply.String(), c.raw); err != nil {
		return err
	}

	if c.saveAudio != "" && saver.data != nil {
		if err := os.WriteFile(c.saveAudio, saver.data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(out, "Audio reply (%s) written to %s\n", saver.mime, c.saveAudio)
	}
	return nil
}

func render(out io.Writer, markdown string, raw bool) error {
	if raw || strings.TrimSpace(markdown) == "" {
		_, err := io.WriteString(out, markdown)
		return err
	}
	rendered, err := glamour.Render(markdown, "dark")
	if err != nil {
		_, err = io.WriteString(out, markdown)
		return err
	}
	_, err = io.WriteString(out, rendered)
	return err
}

func audioMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mp3"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	default:
		return media.MIMEWAV
	}
}
