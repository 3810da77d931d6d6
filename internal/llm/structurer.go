package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mixelka/cvharvest/pkg/models"
)

const extractionPrompt = `You are an assistant that extracts structured information from CVs.
Return a JSON object with the keys: name, age, email, phone, address, education, experience, skills.
Use an empty string for any field not present in the text. Example:
` + "```json" + `
{
  "name": "Nguyen Van A",
  "age": "30",
  "email": "a.van.nguyen@example.com",
  "phone": "+84 912345678",
  "address": "1 Dai Lo, Thu Duc, TP.HCM",
  "education": "Dai hoc Bach Khoa TP.HCM, CNTT",
  "experience": "3 years at XYZ Company",
  "skills": "Python; Machine Learning"
}
` + "```" + `
CV text follows.`

const (
	maxAttempts   = 3
	maxInputChars = 8000
	baseDelay     = time.Second
)

var (
	fencedJSONRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSONRegex   = regexp.MustCompile(`(?s)\{.*\}`)

	transientSignatures = []string{"quota", "429", "resource_exhausted", "rate limit"}
)

// Structurer turns raw CV text into the fixed structured field set. The LLM
// backend is retried only on quota-style failures; everything else drops to
// the deterministic regex fallback.
type Structurer struct {
	backend Backend
	logger  *slog.Logger
	sleep   func(time.Duration)
}

// NewStructurer creates a structurer over the given backend.
func NewStructurer(backend Backend, logger *slog.Logger) *Structurer {
	return &Structurer{
		backend: backend,
		logger:  logger.With("component", "structurer"),
		sleep:   time.Sleep,
	}
}

// Extract maps CV text to structured fields. Empty input returns an empty
// mapping without touching the backend. Long input is truncated before the
// request. The result always comes from either a parsed LLM response or the
// regex fallback; Extract itself never fails.
func (s *Structurer) Extract(ctx context.Context, text string) map[string]string {
	if strings.TrimSpace(text) == "" {
		s.logger.Debug("empty text, skipping structuring")
		return map[string]string{}
	}

	if len(text) > maxInputChars {
		s.logger.Info("truncating long CV text", "from", len(text), "to", maxInputChars)
		text = text[:maxInputChars] + "...[text truncated]"
	}

	prompt := extractionPrompt + "\n\n" + text

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := s.backend.Generate(ctx, prompt)
		if err == nil {
			if strings.TrimSpace(resp) == "" {
				err = errors.New("empty response from model")
			} else if fields, ok := parseResponse(resp); ok {
				s.logger.Debug("structuring succeeded", "attempt", attempt)
				return fields
			} else {
				err = errors.New("no valid JSON object in model response")
			}
		}

		if !isTransient(err) {
			s.logger.Warn("structuring failed, using regex fallback", "attempt", attempt, "error", err)
			return Fallback(text)
		}
		if attempt < maxAttempts {
			delay := baseDelay << (attempt - 1)
			s.logger.Warn("rate limited, backing off", "attempt", attempt, "delay", delay)
			s.sleep(delay)
		}
	}

	s.logger.Error("all structuring attempts failed, using regex fallback")
	return Fallback(text)
}

// Close releases the backend.
func (s *Structurer) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	for _, signature := range transientSignatures {
		if strings.Contains(message, signature) {
			return true
		}
	}
	return false
}

// parseResponse locates a JSON object in the model output: a fenced code
// block first, then the first brace-delimited block, then the whole body.
func parseResponse(resp string) (map[string]string, bool) {
	if match := fencedJSONRegex.FindStringSubmatch(resp); match != nil {
		if fields, ok := decodeFields(match[1]); ok {
			return fields, true
		}
	}
	if match := bareJSONRegex.FindString(resp); match != "" {
		if fields, ok := decodeFields(match); ok {
			return fields, true
		}
	}
	return decodeFields(strings.TrimSpace(resp))
}

func decodeFields(raw string) (map[string]string, bool) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, false
	}
	fields := make(map[string]string, len(decoded))
	for key, value := range decoded {
		switch v := value.(type) {
		case string:
			fields[key] = v
		case nil:
			fields[key] = ""
		default:
			fields[key] = fmt.Sprintf("%v", v)
		}
	}
	return fields, true
}

// Field labels accepted by the fallback, Vietnamese first to match the CVs
// this tool is pointed at.
var fallbackPatterns = map[string]*regexp.Regexp{
	"name":       regexp.MustCompile(`(?i)(?:Họ tên|Tên|Name)[:\-\s]+([^\n]+)`),
	"age":        regexp.MustCompile(`(?i)(?:Tuổi|Age)[:\-\s]+(\d{1,3})`),
	"email":      regexp.MustCompile(`([a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+)`),
	"phone":      regexp.MustCompile(`(\+?\d[\d\-\s]{7,}\d)`),
	"address":    regexp.MustCompile(`(?i)(?:Địa chỉ|Address)[:\-\s]+([^\n]+)`),
	"education":  regexp.MustCompile(`(?i)(?:Học vấn|Education)[:\-\s]+([^\n]+)`),
	"experience": regexp.MustCompile(`(?i)(?:Kinh nghiệm|Experience)[:\-\s]+([^\n]+)`),
	"skills":     regexp.MustCompile(`(?i)(?:Kỹ năng|Skills?)[:\-\s]+([^\n]+)`),
}

// Fallback extracts fields with per-field regular expressions over labeled
// lines. It accepts arbitrary input, always returns every field key, and
// never fails.
func Fallback(text string) map[string]string {
	fields := make(map[string]string, len(models.FieldNames))
	for _, name := range models.FieldNames {
		fields[name] = ""
		if pattern, ok := fallbackPatterns[name]; ok {
			if match := pattern.FindStringSubmatch(text); match != nil {
				fields[name] = strings.TrimSpace(match[1])
			}
		}
	}
	return fields
}
