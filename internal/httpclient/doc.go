// Package httpclient builds per-record HTTP requests for the http action.
//
// A [RequestBuilder] holds the templated method, URL, headers and body. Each
// call to [RequestBuilder.Build] substitutes one record's fields:
//
//	builder, err := httpclient.NewRequestBuilder(&cfg.Action)
//	if err != nil {
//		return err
//	}
//	req, err := builder.Build(ctx, record)
//
// With [NewRequestBuilderWithAuth] every request also gets an Authorization
// header from an auth provider (see internal/auth).
//
// [NewClient] returns an http.Client with connection reuse tuned for many
// concurrent requests against the same host.
package httpclient
