package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/loqalabs/loqa-tts/internal/waveform"
	"github.com/mattn/go-shellwords"
)

// maxExecLine bounds one JSON line of synthesizer output.
const maxExecLine = 32 << 20

type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Text        string `json:"text"`
	Voice       string `json:"voice"`
	Language    string `json:"language,omitempty"`
	ModelType   string `json:"model_type,omitempty"`
	ModelPath   string `json:"model_path,omitempty"`
	VocoderType string `json:"vocoder_type,omitempty"`
	VocoderPath string `json:"vocoder_path,omitempty"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

// NewExecSynth runs command once per sentence. The command reads one JSON
// request on stdin and writes JSON lines carrying base64 16-bit PCM chunks.
func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

// Synthesize serializes calls; synthesis engines are usually single-model
// processes that do not benefit from running side by side.
func (e *execSynth) Synthesize(ctx context.Context, v voice.Voice, text string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rate := e.sampleRate
	if v.SampleRate > 0 {
		rate = v.SampleRate
	}
	payload, err := json.Marshal(execRequest{
		Text:        text,
		Voice:       v.Name,
		Language:    v.Language,
		ModelType:   v.ModelType,
		ModelPath:   v.ModelPath,
		VocoderType: v.VocoderType,
		VocoderPath: v.VocoderPath,
		SampleRate:  rate,
		Channels:    e.channels,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrSynthesis, e.cmd[0], err)
	}

	pcm, readErr := readPCM(stdout)
	waitErr := cmd.Wait()
	if readErr != nil {
		return nil, readErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("%w: %s: %v%s", ErrSynthesis, e.cmd[0], waitErr, stderrSuffix(&stderr))
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: no audio produced", ErrSynthesis)
	}
	return waveform.WrapPCM(pcm, rate, e.channels)
}

// readPCM drains stdout; chunks after the final one are ignored.
func readPCM(stdout io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxExecLine)
	var pcm []byte
	final := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || final {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("%w: decode output: %v", ErrSynthesis, err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrSynthesis, resp.Error)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: decode pcm: %v", ErrSynthesis, err)
		}
		pcm = append(pcm, chunk...)
		final = resp.Final
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrSynthesis, err)
	}
	return pcm, nil
}

func stderrSuffix(buf *bytes.Buffer) string {
	msg := strings.TrimSpace(buf.String())
	if msg == "" {
		return ""
	}
	return ": " + msg
}
