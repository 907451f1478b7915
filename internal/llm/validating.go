package llm

import "context"

// ValidatingProvider checks structured responses against the request
// schema. A response that was cut off at the token limit and fails the
// check is reported as ErrMaxTokensExceeded rather than as invalid.
type ValidatingProvider struct {
	inner Provider
}

// WithValidation wraps a Provider with response schema checks.
func WithValidation(p Provider) Provider {
	return &ValidatingProvider{inner: p}
}

func (v *ValidatingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := v.inner.Generate(ctx, req)
	if err != nil || req.Schema == nil {
		return resp, err
	}
	if cerr := checkContent(req.Schema, resp.Content); cerr != nil {
		if resp.StopReason == "max_tokens" {
			return nil, &ErrMaxTokensExceeded{Content: resp.Content}
		}
		return nil, &ErrInvalidResponse{Content: resp.Content, Err: cerr}
	}
	return resp, nil
}

func (v *ValidatingProvider) ModelID() string {
	return v.inner.ModelID()
}
