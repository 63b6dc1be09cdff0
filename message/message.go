// Package message defines the tagged-variant request and response bodies
// carried inside a protocol.Frame's payload, and their JSON wire shapes.
//
// Each request kind is its own Go type implementing Request; DecodeRequest
// inspects the "requestType" field and constructs the matching variant,
// rejecting unknown kinds at parse time — this is the idiomatic
// tagged-union replacement for the single struct-with-many-optional-fields
// representation the source language used.
package message

import (
	"encoding/json"
	"strings"

	"utran/protocol"
	"utran/uterr"
)

// State is the outcome of a request: 0 failed, 1 success, matching the
// wire encoding exactly.
type State int

const (
	StateFailed  State = 0
	StateSuccess State = 1
)

// Request is implemented by every non-envelope request body kind. Kind
// reports the protocol.Kind this body was parsed from / will be sent as.
type Request interface {
	Kind() protocol.Kind
	RequestID() uint64
}

// RPCRequest invokes a registered method by name.
type RPCRequest struct {
	ID         uint64         `json:"id"`
	MethodName string         `json:"methodName"`
	Args       []any          `json:"args"`
	Dicts      map[string]any `json:"dicts"`
}

func (r *RPCRequest) Kind() protocol.Kind { return protocol.KindRPC }
func (r *RPCRequest) RequestID() uint64   { return r.ID }

// SubscribeRequest joins one or more topics.
type SubscribeRequest struct {
	ID     uint64   `json:"id"`
	Topics []string `json:"topics"`
}

func (r *SubscribeRequest) Kind() protocol.Kind { return protocol.KindSubscribe }
func (r *SubscribeRequest) RequestID() uint64   { return r.ID }

// UnsubscribeRequest leaves one or more topics.
type UnsubscribeRequest struct {
	ID     uint64   `json:"id"`
	Topics []string `json:"topics"`
}

func (r *UnsubscribeRequest) Kind() protocol.Kind { return protocol.KindUnsubscribe }
func (r *UnsubscribeRequest) RequestID() uint64   { return r.ID }

// PublishRequest pushes msg to every subscriber of each topic.
type PublishRequest struct {
	ID     uint64   `json:"id"`
	Topics []string `json:"topics"`
	Msg    any      `json:"msg"`
}

func (r *PublishRequest) Kind() protocol.Kind { return protocol.KindPublish }
func (r *PublishRequest) RequestID() uint64   { return r.ID }

// MulticallRequest batches non-multicall inner requests under one envelope.
type MulticallRequest struct {
	ID       uint64    `json:"id"`
	Multiple []Request `json:"-"`
}

func (r *MulticallRequest) Kind() protocol.Kind { return protocol.KindMulticall }
func (r *MulticallRequest) RequestID() uint64   { return r.ID }

// wireEnvelope is the over-the-wire shape every request shares before its
// kind-specific fields are picked apart.
type wireEnvelope struct {
	ID          uint64            `json:"id"`
	RequestType string            `json:"requestType"`
	MethodName  string            `json:"methodName"`
	Args        []any             `json:"args"`
	Dicts       map[string]any    `json:"dicts"`
	Topics      []string          `json:"topics"`
	Msg         any               `json:"msg"`
	Multiple    []json.RawMessage `json:"multiple"`
}

// DecodeRequest parses a frame payload into the Request variant named by
// its "requestType" field, rejecting unknown kinds and nested multicall.
func DecodeRequest(payload []byte) (Request, error) {
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, uterr.NewProtocolError("non-object or malformed request body: " + err.Error())
	}
	return decodeEnvelope(env, true)
}

func decodeEnvelope(env wireEnvelope, allowMulticall bool) (Request, error) {
	switch protocol.Kind(env.RequestType) {
	case protocol.KindRPC:
		if strings.TrimSpace(env.MethodName) == "" {
			return nil, uterr.NewProtocolError("rpc request missing methodName")
		}
		args := env.Args
		if args == nil {
			args = []any{}
		}
		dicts := env.Dicts
		if dicts == nil {
			dicts = map[string]any{}
		}
		return &RPCRequest{ID: env.ID, MethodName: env.MethodName, Args: args, Dicts: dicts}, nil

	case protocol.KindSubscribe:
		return &SubscribeRequest{ID: env.ID, Topics: normalizeTopicList(env.Topics)}, nil

	case protocol.KindUnsubscribe:
		return &UnsubscribeRequest{ID: env.ID, Topics: normalizeTopicList(env.Topics)}, nil

	case protocol.KindPublish:
		return &PublishRequest{ID: env.ID, Topics: normalizeTopicList(env.Topics), Msg: env.Msg}, nil

	case protocol.KindMulticall:
		if !allowMulticall {
			return nil, uterr.ErrNestedMulticall
		}
		inner := make([]Request, 0, len(env.Multiple))
		for _, raw := range env.Multiple {
			var innerEnv wireEnvelope
			if err := json.Unmarshal(raw, &innerEnv); err != nil {
				return nil, uterr.NewProtocolError("malformed multicall entry: " + err.Error())
			}
			req, err := decodeEnvelope(innerEnv, false)
			if err != nil {
				return nil, err
			}
			inner = append(inner, req)
		}
		return &MulticallRequest{ID: env.ID, Multiple: inner}, nil

	default:
		return nil, uterr.NewProtocolError("unknown requestType: " + env.RequestType)
	}
}

// normalizeTopicList trims and lowercases every entry, dropping empties,
// matching the registry's own normalization so a caller sees consistent
// echoes in subscribe/unsubscribe responses.
func normalizeTopicList(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// EncodeRequest serializes r into the JSON payload its requestType expects.
func EncodeRequest(r Request) ([]byte, error) {
	switch v := r.(type) {
	case *RPCRequest:
		return json.Marshal(map[string]any{
			"id": v.ID, "requestType": string(protocol.KindRPC),
			"methodName": v.MethodName, "args": v.Args, "dicts": v.Dicts,
		})
	case *SubscribeRequest:
		return json.Marshal(map[string]any{
			"id": v.ID, "requestType": string(protocol.KindSubscribe), "topics": v.Topics,
		})
	case *UnsubscribeRequest:
		return json.Marshal(map[string]any{
			"id": v.ID, "requestType": string(protocol.KindUnsubscribe), "topics": v.Topics,
		})
	case *PublishRequest:
		return json.Marshal(map[string]any{
			"id": v.ID, "requestType": string(protocol.KindPublish), "topics": v.Topics, "msg": v.Msg,
		})
	case *MulticallRequest:
		multiple := make([]json.RawMessage, 0, len(v.Multiple))
		for _, inner := range v.Multiple {
			raw, err := EncodeRequest(inner)
			if err != nil {
				return nil, err
			}
			multiple = append(multiple, raw)
		}
		return json.Marshal(map[string]any{
			"id": v.ID, "requestType": string(protocol.KindMulticall), "multiple": multiple,
		})
	default:
		return nil, uterr.NewProtocolError("unsupported request type for encoding")
	}
}

// Response is the single response body shape; its Result's dynamic type
// depends on ResponseType (subscribe/unsubscribe carry a topic-list struct,
// multicall carries an ordered []*Response, rpc/publish carry arbitrary
// values).
type Response struct {
	ID           uint64       `json:"id"`
	ResponseType protocol.Kind `json:"responseType"`
	State        State        `json:"state"`
	MethodName   string       `json:"methodName,omitempty"`
	Result       any          `json:"result,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// SubscribeResult is the Result payload for subscribe responses.
type SubscribeResult struct {
	AllTopics []string `json:"allTopics"`
	SubTopics []string `json:"subTopics"`
}

// UnsubscribeResult is the Result payload for unsubscribe responses.
type UnsubscribeResult struct {
	AllTopics   []string `json:"allTopics"`
	UnSubTopics []string `json:"unSubTopics"`
}

// PublishResult is the Result payload for server-initiated publish pushes.
type PublishResult struct {
	Topic string `json:"topic"`
	Msg   any    `json:"msg"`
}

// EncodeResponse serializes r as the frame payload.
func EncodeResponse(r *Response) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResponse parses a frame payload back into a Response. The caller
// (the client facade) is responsible for re-interpreting Result's shape
// based on ResponseType.
func DecodeResponse(payload []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, uterr.NewProtocolError("malformed response body: " + err.Error())
	}
	return &r, nil
}

// reshapeResult round-trips r.Result through JSON into out, since
// json.Unmarshal into the `any`-typed Result field leaves it as generic
// maps/slices rather than the kind-specific struct.
func reshapeResult(result any, out any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// ParseSubscribeResult reshapes a subscribe response's Result into SubscribeResult.
func ParseSubscribeResult(r *Response) (*SubscribeResult, error) {
	var out SubscribeResult
	if err := reshapeResult(r.Result, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ParseUnsubscribeResult reshapes an unsubscribe response's Result into UnsubscribeResult.
func ParseUnsubscribeResult(r *Response) (*UnsubscribeResult, error) {
	var out UnsubscribeResult
	if err := reshapeResult(r.Result, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ParsePublishResult reshapes a publish push's Result into PublishResult.
func ParsePublishResult(r *Response) (*PublishResult, error) {
	var out PublishResult
	if err := reshapeResult(r.Result, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ParseMulticallResult reshapes a multicall response's ordered Result into
// the inner []*Response it carries.
func ParseMulticallResult(r *Response) ([]*Response, error) {
	var out []*Response
	if err := reshapeResult(r.Result, &out); err != nil {
		return nil, err
	}
	return out, nil
}
