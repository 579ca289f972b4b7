package services

import "context"

// Provenance 请求来源，写入审计日志
type Provenance struct {
	IP        string
	UserAgent string
	RequestID string
}

type provenanceKey struct{}

// WithProvenance 把请求来源放入上下文
func WithProvenance(ctx context.Context, p Provenance) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// ProvenanceFrom 读取请求来源，没有时返回零值
func ProvenanceFrom(ctx context.Context) Provenance {
	p, _ := ctx.Value(provenanceKey{}).(Provenance)
	return p
}
