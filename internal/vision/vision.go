// Package vision turns a meal photo into a structured analysis by
// asking a multimodal model for a fixed JSON answer.
package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

var (
	// ErrNotFood means the model decided the photo shows nothing edible.
	ErrNotFood = errors.New("the photo does not show food")
	// ErrAnalysisFailed means the model's answer could not be used.
	ErrAnalysisFailed = errors.New("analysis failed")
)

const defaultPrompt = `You are a nutrition assistant for a meal logging app. ` +
	`Look at the photo and answer with a single JSON object, no markdown, ` +
	`using exactly these keys: {"isFood": boolean, "title": string, ` +
	`"description": string, "ingredients": [string], "recipe": [string], ` +
	`"shoppingList": [string], "healthScore": number}. Respond in Dutch. ` +
	`Set isFood to false when the photo does not show something edible. ` +
	`healthScore grades the meal from 1 (unhealthy) to 10 (very healthy).`

// Client calls the vision model. Outbound calls run through a token
// bucket so a burst of uploads cannot drain the vendor quota, and
// every call carries a deadline.
type Client struct {
	gc      *genai.Client
	model   string
	prompt  string
	quota   *rate.Limiter
	timeout time.Duration
	vlgr    *log.Logger
}

func NewClient(ctx context.Context, apiKey, model, prompt string, callsPerMinute int, timeout time.Duration, vlgr *log.Logger) (*Client, error) {

	if apiKey == "" {
		return nil, fmt.Errorf("unable to create the vision client without an API key")
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("unable to init the vision client: %v", err)
	}

	if model == "" {
		model = "gemini-2.0-flash"
	}
	if prompt == "" {
		prompt = defaultPrompt
	}
	if callsPerMinute < 1 {
		callsPerMinute = 10
	}
	if timeout < time.Second {
		timeout = 45 * time.Second
	}

	return &Client{
		gc:      gc,
		model:   model,
		prompt:  prompt,
		quota:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(callsPerMinute)), callsPerMinute),
		timeout: timeout,
		vlgr:    vlgr,
	}, nil
}

// Analyze sends the image with the extraction prompt and parses the
// structured answer.
func (c *Client) Analyze(ctx context.Context, image []byte, mime string) (*maaltijd.Analysis, error) {

	if len(image) == 0 {
		return nil, fmt.Errorf("unable to analyze an empty image")
	}
	if mime == "" {
		mime = "image/jpeg"
	}

	if err := c.quota.Wait(ctx); err != nil {
		return nil, fmt.Errorf("unable to obtain an analysis slot: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	parts := []*genai.Part{
		genai.NewPartFromBytes(image, mime),
		genai.NewPartFromText(c.prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := c.gc.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.2)),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get an answer from the vision model: %v", err)
	}

	a, err := ParseAnswer(resp.Text())
	if err != nil {
		return nil, err
	}

	c.vlgr.Printf("[vision] analyzed photo into %q (score %d)", a.Title, a.HealthScore)
	return a, nil
}
