package embed

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/imagesearch/pkg/natsutil"
)

// NATSClient embeds via request/reply on <prefix>.text and <prefix>.image.
type NATSClient struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSClient creates a client that sends requests on subjects under prefix.
func NewNATSClient(nc *nats.Conn, prefix string) *NATSClient {
	return &NATSClient{nc: nc, prefix: prefix}
}

// EmbedText implements TextEmbedder.
func (c *NATSClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	resp, err := natsutil.Request[textRequest, embedResponse](ctx, c.nc, c.prefix+".text", textRequest{Text: text})
	return natsResult("nats text", resp, err)
}

// EmbedImage implements ImageEmbedder.
func (c *NATSClient) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	req := imageRequest{Image: base64.StdEncoding.EncodeToString(image)}
	resp, err := natsutil.Request[imageRequest, embedResponse](ctx, c.nc, c.prefix+".image", req)
	return natsResult("nats image", resp, err)
}

func natsResult(op string, resp embedResponse, err error) ([]float32, error) {
	if err != nil {
		return nil, fmt.Errorf("embed: %s: %w", op, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("embed: %s: %s", op, resp.Error)
	}
	return checkVector(op, fromFloat64(resp.Embedding))
}

// Check implements Checker by round-tripping a flush to the server.
func (c *NATSClient) Check(ctx context.Context) error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("embed: nats: %w", nats.ErrConnectionClosed)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("embed: nats flush: %w", err)
	}
	return nil
}

// ServeNATS answers embedding requests under prefix with e. Both
// subscriptions join queue when it is non-empty.
func ServeNATS(nc *nats.Conn, prefix, queue string, e Embedder) ([]*nats.Subscription, error) {
	text, err := natsutil.Serve(nc, prefix+".text", queue, func(ctx context.Context, req textRequest) embedResponse {
		return toResponse(e.EmbedText(ctx, req.Text))
	})
	if err != nil {
		return nil, fmt.Errorf("embed: serve %s.text: %w", prefix, err)
	}
	image, err := natsutil.Serve(nc, prefix+".image", queue, func(ctx context.Context, req imageRequest) embedResponse {
		raw, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return embedResponse{Error: "invalid image encoding"}
		}
		return toResponse(e.EmbedImage(ctx, raw))
	})
	if err != nil {
		_ = text.Unsubscribe()
		return nil, fmt.Errorf("embed: serve %s.image: %w", prefix, err)
	}
	return []*nats.Subscription{text, image}, nil
}

func toResponse(v []float32, err error) embedResponse {
	if err != nil {
		return embedResponse{Error: err.Error()}
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return embedResponse{Embedding: out}
}
