package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode answers JSON-RPC calls from a method -> handler table and records the call order.
type fakeNode struct {
	mu       sync.Mutex
	methods  []string
	params   map[string][]json.RawMessage
	handlers map[string]func(params []json.RawMessage) (any, *RPCError)
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		params:   make(map[string][]json.RawMessage),
		handlers: make(map[string]func([]json.RawMessage) (any, *RPCError)),
	}
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64             `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Handlers run under the lock so their captured state needs no extra syncing.
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, req.Method)
	f.params[req.Method] = req.Params
	h := f.handlers[req.Method]

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if h == nil {
		resp["error"] = RPCError{Code: -32601, Message: "Method not found"}
	} else if result, rpcErr := h(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeNode) param(method string, i int) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[method][i]
}

func (f *fakeNode) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func TestRPCGetObject(t *testing.T) {
	node := newFakeNode()
	node.handlers["sui_getObject"] = func(p []json.RawMessage) (any, *RPCError) {
		var id string
		_ = json.Unmarshal(p[0], &id)
		if id != "0xc1" {
			return map[string]any{"error": map[string]any{"code": "notExists", "object_id": id}}, nil
		}
		return map[string]any{"data": map[string]any{
			"objectId": "0xc1",
			"version":  "7",
			"type":     "0xpkg::academy::Course",
			"owner":    map[string]any{"Shared": map[string]any{"initial_shared_version": 3}},
			"content": map[string]any{
				"dataType": "moveObject",
				"type":     "0xpkg::academy::Course",
				"fields": map[string]any{
					"id":                  map[string]any{"id": "0xc1"},
					"instructor":          "0xinst",
					"profile_id":          "0xprof",
					"title":               "Go",
					"description":         "Learn Go",
					"price":               "1500000000",
					"thumbnail_blob_id":   "thumb",
					"course_data_blob_id": "data",
				},
			},
		}}, nil
	}
	srv := httptest.NewServer(node)
	defer srv.Close()

	r := NewRPC(srv.URL, 1000, nil)
	o, err := r.GetObject(context.Background(), "0xc1")
	require.NoError(t, err)
	assert.Equal(t, "shared", o.Owner)
	assert.Equal(t, "7", o.Version)

	course, err := DecodeCourse(o)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), course.Price)
	assert.Equal(t, "data", course.CourseDataBlobID)

	_, err = r.GetObject(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRPCListOwnedPaginates(t *testing.T) {
	node := newFakeNode()
	page := 0
	node.handlers["suix_getOwnedObjects"] = func(p []json.RawMessage) (any, *RPCError) {
		page++
		item := func(id string) map[string]any {
			return map[string]any{"data": map[string]any{
				"objectId": id,
				"type":     "0xpkg::academy::Ticket",
				"owner":    map[string]any{"AddressOwner": "0xme"},
				"content":  map[string]any{"fields": map[string]any{"course_id": "0xc1"}},
			}}
		}
		if page == 1 {
			return map[string]any{"data": []any{item("0xt1")}, "nextCursor": "0xt1", "hasNextPage": true}, nil
		}
		return map[string]any{"data": []any{item("0xt2")}, "nextCursor": nil, "hasNextPage": false}, nil
	}
	srv := httptest.NewServer(node)
	defer srv.Close()

	objs, err := NewRPC(srv.URL, 1000, nil).ListOwned(context.Background(), "0xme", "0xpkg::academy::Ticket")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "0xme", objs[1].Owner)
	assert.Equal(t, "0xc1", DecodeTicket(&objs[0]).CourseID)
	assert.Len(t, node.calls(), 2)
}

func TestRPCQueryEvents(t *testing.T) {
	node := newFakeNode()
	node.handlers["suix_queryEvents"] = func(p []json.RawMessage) (any, *RPCError) {
		return map[string]any{"data": []any{map[string]any{
			"id":          map[string]any{"txDigest": "D1", "eventSeq": "0"},
			"type":        "0xpkg::academy::CourseCreated",
			"sender":      "0xinst",
			"parsedJson":  map[string]any{"course_id": "0xc1", "title": "Go"},
			"timestampMs": "1700000000000",
		}}, "hasNextPage": false}, nil
	}
	srv := httptest.NewServer(node)
	defer srv.Close()

	events, err := NewRPC(srv.URL, 1000, nil).QueryEvents(context.Background(), "0xpkg::academy::CourseCreated", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "0xc1", FieldString(events[0].Fields, "course_id"))
	assert.Equal(t, int64(1700000000000), events[0].Timestamp.UnixMilli())

	var descending bool
	require.NoError(t, json.Unmarshal(node.param("suix_queryEvents", 3), &descending))
	assert.True(t, descending)
}

func TestRPCSubmitSignsAndExecutes(t *testing.T) {
	node := newFakeNode()
	node.handlers["unsafe_moveCall"] = func(p []json.RawMessage) (any, *RPCError) {
		return map[string]any{"txBytes": base64.StdEncoding.EncodeToString([]byte("tx"))}, nil
	}
	node.handlers["sui_executeTransactionBlock"] = func(p []json.RawMessage) (any, *RPCError) {
		return map[string]any{
			"digest":  "DIGEST",
			"effects": map[string]any{"status": map[string]any{"status": "success"}},
			"objectChanges": []any{
				map[string]any{"type": "mutated", "objectId": "0xgas", "objectType": CoinObjectType},
				map[string]any{"type": "created", "objectId": "0xprof", "objectType": "0xpkg::academy::TeacherProfile"},
			},
		}, nil
	}
	srv := httptest.NewServer(node)
	defer srv.Close()

	var signed []byte
	sign := func(b []byte) (string, error) { signed = b; return "SIG", nil }

	c := NewContract("0xpkg", "", "")
	res, err := NewRPC(srv.URL, 1000, nil).Submit(context.Background(), "0xme", c.CreateProfile("", "about", "contacts"), sign)
	require.NoError(t, err)
	assert.Equal(t, "DIGEST", res.Digest)
	assert.Equal(t, []byte("tx"), signed)

	id, ok := res.CreatedOfType(c.StructType(StructProfile))
	assert.True(t, ok)
	assert.Equal(t, "0xprof", id)

	var sigs []string
	require.NoError(t, json.Unmarshal(node.param("sui_executeTransactionBlock", 1), &sigs))
	assert.Equal(t, []string{"SIG"}, sigs)
	var budget string
	require.NoError(t, json.Unmarshal(node.param("unsafe_moveCall", 7), &budget))
	assert.Equal(t, "1000", budget)
}

func TestRPCSubmitFailureStatusIsTxError(t *testing.T) {
	node := newFakeNode()
	node.handlers["unsafe_moveCall"] = func(p []json.RawMessage) (any, *RPCError) {
		return map[string]any{"txBytes": base64.StdEncoding.EncodeToString([]byte("tx"))}, nil
	}
	node.handlers["sui_executeTransactionBlock"] = func(p []json.RawMessage) (any, *RPCError) {
		return map[string]any{
			"digest":  "BAD",
			"effects": map[string]any{"status": map[string]any{"status": "failure", "error": "MoveAbort(..., 3) in command 0"}},
		}, nil
	}
	srv := httptest.NewServer(node)
	defer srv.Close()

	_, err := NewRPC(srv.URL, 1000, nil).Submit(context.Background(), "0xme",
		NewContract("0xpkg", "", "").CreateCourse("0xprof", "t", "d", 1, "a", "b"),
		func([]byte) (string, error) { return "SIG", nil })

	var txErr *TxError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, "BAD", txErr.Digest)
	assert.Equal(t, "MoveAbort(..., 3) in command 0", err.Error())
}

func TestRPCEnrollSplitsPaymentCoin(t *testing.T) {
	node := newFakeNode()
	node.handlers["suix_getCoins"] = func(p []json.RawMessage) (any, *RPCError) {
		return map[string]any{"data": []any{
			map[string]any{"coinObjectId": "0xbig", "balance": "9000"},
			map[string]any{"coinObjectId": "0xgas", "balance": "500"},
		}, "hasNextPage": false}, nil
	}
	node.handlers["unsafe_splitCoin"] = func(p []json.RawMessage) (any, *RPCError) {
		return map[string]any{"txBytes": base64.StdEncoding.EncodeToString([]byte("split"))}, nil
	}
	execs := 0
	node.handlers["sui_executeTransactionBlock"] = func(p []json.RawMessage) (any, *RPCError) {
		execs++
		if execs == 1 {
			return map[string]any{
				"digest":        "SPLIT",
				"effects":       map[string]any{"status": map[string]any{"status": "success"}},
				"objectChanges": []any{map[string]any{"type": "created", "objectId": "0xpay", "objectType": CoinObjectType}},
			}, nil
		}
		return map[string]any{
			"digest":        "ENROLL",
			"effects":       map[string]any{"status": map[string]any{"status": "success"}},
			"objectChanges": []any{map[string]any{"type": "created", "objectId": "0xticket", "objectType": "0xpkg::academy::Ticket"}},
		}, nil
	}
	node.handlers["unsafe_moveCall"] = func(p []json.RawMessage) (any, *RPCError) {
		return map[string]any{"txBytes": base64.StdEncoding.EncodeToString([]byte("enroll"))}, nil
	}
	srv := httptest.NewServer(node)
	defer srv.Close()

	res, err := NewRPC(srv.URL, 1000, nil).Submit(context.Background(), "0xme",
		NewContract("0xpkg", "", "").Enroll("0xc1", 1200),
		func([]byte) (string, error) { return "SIG", nil })
	require.NoError(t, err)
	assert.Equal(t, "ENROLL", res.Digest)
	assert.Equal(t, []string{
		"suix_getCoins", "unsafe_splitCoin", "sui_executeTransactionBlock",
		"unsafe_moveCall", "sui_executeTransactionBlock",
	}, node.calls())

	var args []any
	require.NoError(t, json.Unmarshal(node.param("unsafe_moveCall", 5), &args))
	assert.Equal(t, []any{"0xc1", "0xpay"}, args)

	var amounts []string
	require.NoError(t, json.Unmarshal(node.param("unsafe_splitCoin", 2), &amounts))
	assert.Equal(t, []string{"1200"}, amounts)
}

func TestRPCErrorResponse(t *testing.T) {
	node := newFakeNode()
	node.handlers["suix_getBalance"] = func(p []json.RawMessage) (any, *RPCError) {
		return nil, &RPCError{Code: -32602, Message: "Invalid params"}
	}
	srv := httptest.NewServer(node)
	defer srv.Close()

	_, err := NewRPC(srv.URL, 1000, nil).Balance(context.Background(), "bad")
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32602, rpcErr.Code)
}
