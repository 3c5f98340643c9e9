package dependencies

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"variations/internal/clients/local"
	"variations/internal/providers"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Methods exposed by the diffusion sidecar. Messages are google.protobuf.Struct.
const (
	MethodImg2Img = "/imagegen.ImageService/Img2Img"
	MethodStatus  = "/imagegen.ImageService/Status"
	MethodUnload  = "/imagegen.ImageService/Unload"
)

const defaultTimeout = 240 * time.Second

type Rpc struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func NewRpc(peer, port string, opts ...grpc.DialOption) (*Rpc, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(fmt.Sprint(peer, ":", port), opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating newrpc: %w", err)
	}

	return &Rpc{conn: conn, timeout: defaultTimeout}, nil
}

// SetTimeout bounds calls made without a context deadline.
func (r *Rpc) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

func (r *Rpc) Img2Img(ctx context.Context, req local.Request) (*local.Response, error) {
	in, err := structpb.NewStruct(map[string]any{
		"model":           req.Model,
		"model_path":      req.ModelPath,
		"image":           base64.StdEncoding.EncodeToString(req.Image),
		"width":           req.Width,
		"height":          req.Height,
		"prompt":          req.Prompt,
		"negative_prompt": req.NegativePrompt,
		"strength":        req.Strength,
		"seed":            req.Seed,
		"steps":           req.Steps,
		"guidance_scale":  req.GuidanceScale,
	})
	if err != nil {
		return nil, providers.Errorf(providers.KindInvalidInput, "encode request: %v", err)
	}

	out, err := r.invoke(ctx, MethodImg2Img, in)
	if err != nil {
		return nil, err
	}

	fields := out.GetFields()
	img, err := base64.StdEncoding.DecodeString(fields["image"].GetStringValue())
	if err != nil {
		return nil, providers.Malformed("sidecar image", err)
	}
	return &local.Response{
		Image:   img,
		Seed:    int64(fields["seed"].GetNumberValue()),
		Device:  fields["device"].GetStringValue(),
		Elapsed: fields["elapsed"].GetNumberValue(),
	}, nil
}

func (r *Rpc) Status(ctx context.Context) (*local.Status, error) {
	out, err := r.invoke(ctx, MethodStatus, &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	fields := out.GetFields()
	return &local.Status{
		Loaded: fields["loaded"].GetBoolValue(),
		Model:  fields["model"].GetStringValue(),
		Device: fields["device"].GetStringValue(),
	}, nil
}

// Unload frees the resident pipeline and its GPU memory.
func (r *Rpc) Unload(ctx context.Context) error {
	_, err := r.invoke(ctx, MethodUnload, &structpb.Struct{})
	return err
}

func (r *Rpc) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func fromStatus(err error) *providers.Error {
	st, ok := status.FromError(err)
	if !ok {
		return providers.FromTransport(err)
	}

	msg := st.Message()
	switch st.Code() {
	case codes.DeadlineExceeded:
		return providers.NewError(providers.KindTimeout, msg).WithCause(err)
	case codes.Canceled:
		return providers.NewError(providers.KindNetworkError, msg).WithCause(err)
	case codes.InvalidArgument:
		return providers.NewError(providers.KindInvalidInput, msg).WithCause(err)
	case codes.ResourceExhausted:
		return providers.NewError(providers.KindProviderError, "insufficient GPU memory: "+msg).WithCause(err)
	}
	if strings.Contains(strings.ToLower(msg), "out of memory") {
		return providers.NewError(providers.KindProviderError, "insufficient GPU memory: "+msg).WithCause(err)
	}
	return providers.Errorf(providers.KindProviderError, "sidecar %s: %s", st.Code(), msg).WithCause(err)
}

func (r *Rpc) Close() {
	r.conn.Close()
}
