package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"everscribe/internal/domain"
	"everscribe/internal/ports"
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

// Recognizer implements ports.Recognizer against the Deepgram realtime
// API. Each recognition attempt maps to one websocket session.
type Recognizer struct {
	cfg Config
	log zerolog.Logger
}

func NewRecognizer(cfg Config, log zerolog.Logger) *Recognizer {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Recognizer{cfg: cfg, log: log}
}

// RequestPermission gates access on credential presence; the API key is
// the cloud backend's equivalent of a recognition permission.
func (r *Recognizer) RequestPermission(_ context.Context) (domain.PermissionStatus, error) {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return domain.PermissionDenied, nil
	}
	return domain.PermissionGranted, nil
}

func (r *Recognizer) BeginAttempt(ctx context.Context, cfg ports.AttemptConfig) (ports.RecognitionAttempt, error) {
	wsURL, err := buildListenURL(r.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	a := &attempt{
		conn:  conn,
		log:   r.log,
		hyps:  make(chan domain.Hypothesis, 64),
		audio: make(chan []byte, 32),
		done:  make(chan struct{}),
	}

	a.wg.Add(2)
	go a.readLoop()
	go a.writeLoop()
	go func() {
		a.wg.Wait()
		close(a.hyps)
		close(a.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = a.Cancel()
		case <-a.done:
		}
	}()

	return a, nil
}

type attempt struct {
	conn *websocket.Conn
	log  zerolog.Logger

	hyps  chan domain.Hypothesis
	audio chan []byte
	done  chan struct{}

	wg sync.WaitGroup

	errMu     sync.Mutex
	err       error
	cancelled bool
	sawSpeech bool

	finishOnce sync.Once
	cancelOnce sync.Once
	sendMu     sync.RWMutex
	sendClosed bool
}

func (a *attempt) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	// The lock is held across the send so Finish cannot close the
	// audio channel mid-send.
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.sendClosed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case a.audio <- copied:
		return nil
	case <-a.done:
		if err := a.terminalErr(); err != nil {
			return err
		}
		return errors.New("attempt already ended")
	}
}

func (a *attempt) Hypotheses() <-chan domain.Hypothesis {
	return a.hyps
}

// Finish closes the audio side so Deepgram flushes buffered audio and
// delivers a trailing final before closing the socket.
func (a *attempt) Finish() error {
	a.finishOnce.Do(func() {
		a.sendMu.Lock()
		a.sendClosed = true
		close(a.audio)
		a.sendMu.Unlock()
	})
	return nil
}

// Cancel tears the attempt down without waiting for a flush. The
// resulting read error is reported as a cancellation, never as a
// user-visible failure.
func (a *attempt) Cancel() error {
	a.cancelOnce.Do(func() {
		a.errMu.Lock()
		a.cancelled = true
		a.errMu.Unlock()
		_ = a.Finish()
		_ = a.conn.Close()
	})
	<-a.done
	return nil
}

func (a *attempt) Wait() error {
	<-a.done
	return a.terminalErr()
}

func (a *attempt) terminalErr() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	if a.cancelled {
		return domain.ErrAttemptCancelled
	}
	if a.err != nil {
		return a.err
	}
	if !a.sawSpeech {
		return domain.ErrNoSpeech
	}
	return nil
}

func (a *attempt) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	a.errMu.Lock()
	defer a.errMu.Unlock()
	if a.err == nil && !a.cancelled {
		a.err = err
	}
}

func (a *attempt) writeLoop() {
	defer a.wg.Done()

	for chunk := range a.audio {
		if err := a.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			a.setErr(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}

	if err := a.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		a.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (a *attempt) readLoop() {
	defer a.wg.Done()

	for {
		_, payload, err := a.conn.ReadMessage()
		if err != nil {
			a.setErr(fmt.Errorf("failed to read recognition event: %w", err))
			return
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			a.log.Warn().Str("message", message).Msg("deepgram error event")
			a.setErr(errors.New(message))
			return
		}
		if strings.EqualFold(response.Type, "Metadata") {
			continue
		}

		hyp, ok := decodeHypothesis(response)
		if !ok {
			continue
		}

		a.errMu.Lock()
		a.sawSpeech = true
		a.errMu.Unlock()

		select {
		case a.hyps <- hyp:
		case <-a.done:
			return
		}
	}
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []listenAlternative `json:"alternatives"`
	} `json:"channel"`
}

type listenAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []struct {
		Word           string  `json:"word"`
		PunctuatedWord string  `json:"punctuated_word"`
		Start          float64 `json:"start"`
		End            float64 `json:"end"`
		Confidence     float64 `json:"confidence"`
	} `json:"words"`
}

func decodeHypothesis(response listenResponse) (domain.Hypothesis, bool) {
	if len(response.Channel.Alternatives) == 0 {
		return domain.Hypothesis{}, false
	}
	alt := response.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return domain.Hypothesis{}, false
	}

	hyp := domain.Hypothesis{
		Text:    text,
		IsFinal: response.IsFinal || response.SpeechFinal,
	}
	for _, w := range alt.Words {
		word := w.PunctuatedWord
		if word == "" {
			word = w.Word
		}
		hyp.Segments = append(hyp.Segments, domain.RawSegment{
			Text:       word,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		})
	}
	return hyp, true
}

func buildListenURL(recognizerCfg Config, attemptCfg ports.AttemptConfig) (string, error) {
	base := recognizerCfg.APIBaseURL
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}
	base = strings.TrimSpace(base)

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if attemptCfg.Encoding == "" {
		attemptCfg.Encoding = "linear16"
	}
	if attemptCfg.SampleRate <= 0 {
		attemptCfg.SampleRate = 16000
	}
	if attemptCfg.Channels <= 0 {
		attemptCfg.Channels = 1
	}

	query := listenURL.Query()
	query.Set("model", recognizerCfg.Model)
	query.Set("encoding", attemptCfg.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", attemptCfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", attemptCfg.Channels))
	query.Set("interim_results", "true")
	query.Set("smart_format", fmt.Sprintf("%t", recognizerCfg.SmartFormat))
	language := recognizerCfg.Language
	if attemptCfg.Language != "" {
		language = attemptCfg.Language
	}
	if language != "" {
		query.Set("language", language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
