package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/metrics"
)

// Page sizes for paginated reads.
const (
	ownedPageSize = 50
	maxOwnedPages = 20
	coinPageSize  = 50
)

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPC talks to a Sui full node over JSON-RPC.
type RPC struct {
	endpoint  string           // Node JSON-RPC URL
	gasBudget uint64           // Gas budget per transaction
	hc        *http.Client     // HTTP client with custom configuration
	m         *metrics.Metrics // Optional call metrics
	nextID    atomic.Int64
}

// NewRPC creates a JSON-RPC ledger client.
// Parameters:
//   - endpoint: Full node JSON-RPC URL
//   - gasBudget: Gas budget for every submitted transaction
//   - m: Metrics sink, may be nil
//
// Returns:
//   - *RPC: Initialized client
func NewRPC(endpoint string, gasBudget uint64, m *metrics.Metrics) *RPC {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
	}
	return &RPC{
		endpoint:  endpoint,
		gasBudget: gasBudget,
		hc:        &http.Client{Transport: transport, Timeout: 30 * time.Second},
		m:         m,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call performs one JSON-RPC round trip and decodes result into out.
func (r *RPC) call(ctx context.Context, method string, out any, params ...any) (err error) {
	start := time.Now()
	defer func() { r.m.ObserveLedger(method, err, time.Since(start)) }()

	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: r.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w", method, &RPCError{Code: resp.StatusCode, Message: resp.Status})
	}

	var rr rpcResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&rr); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if out == nil {
		return nil
	}
	d := json.NewDecoder(bytes.NewReader(rr.Result))
	d.UseNumber()
	if err := d.Decode(out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Wire shapes of the node responses.

type suiObjectResponse struct {
	Data  *suiObjectData `json:"data"`
	Error *struct {
		Code     string `json:"code"`
		ObjectID string `json:"object_id"`
	} `json:"error"`
}

type suiObjectData struct {
	ObjectID string          `json:"objectId"`
	Version  json.Number     `json:"version"`
	Type     string          `json:"type"`
	Owner    json.RawMessage `json:"owner"`
	Content  *struct {
		DataType string         `json:"dataType"`
		Type     string         `json:"type"`
		Fields   map[string]any `json:"fields"`
	} `json:"content"`
}

type suiPage[T any] struct {
	Data        []T             `json:"data"`
	NextCursor  json.RawMessage `json:"nextCursor"`
	HasNextPage bool            `json:"hasNextPage"`
}

type suiEvent struct {
	ID struct {
		TxDigest string `json:"txDigest"`
	} `json:"id"`
	Sender      string         `json:"sender"`
	Type        string         `json:"type"`
	ParsedJSON  map[string]any `json:"parsedJson"`
	TimestampMs json.Number    `json:"timestampMs"`
}

type suiCoin struct {
	CoinObjectID string      `json:"coinObjectId"`
	Balance      json.Number `json:"balance"`
}

type suiTxBytes struct {
	TxBytes string `json:"txBytes"`
}

type suiTxResponse struct {
	Digest  string `json:"digest"`
	Effects *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
	ObjectChanges []struct {
		Type       string `json:"type"`
		ObjectID   string `json:"objectId"`
		ObjectType string `json:"objectType"`
	} `json:"objectChanges"`
	Events []suiEvent `json:"events"`
}

var objectOptions = map[string]any{"showType": true, "showOwner": true, "showContent": true}

var txOptions = map[string]any{"showEffects": true, "showObjectChanges": true, "showEvents": true}

// GetObject implements Reader.
func (r *RPC) GetObject(ctx context.Context, id string) (*Object, error) {
	var resp suiObjectResponse
	if err := r.call(ctx, "sui_getObject", &resp, id, objectOptions); err != nil {
		return nil, err
	}
	if resp.Error != nil || resp.Data == nil {
		return nil, ErrNotFound
	}
	o := toObject(resp.Data)
	return &o, nil
}

// ListOwned implements Reader. All pages are read up to a fixed cap.
func (r *RPC) ListOwned(ctx context.Context, owner, structType string) ([]Object, error) {
	query := map[string]any{
		"filter":  map[string]any{"StructType": structType},
		"options": objectOptions,
	}
	var out []Object
	var cursor any
	for page := 0; page < maxOwnedPages; page++ {
		var resp suiPage[suiObjectResponse]
		if err := r.call(ctx, "suix_getOwnedObjects", &resp, owner, query, cursor, ownedPageSize); err != nil {
			return nil, err
		}
		for _, item := range resp.Data {
			if item.Data != nil {
				out = append(out, toObject(item.Data))
			}
		}
		if !resp.HasNextPage || isNullCursor(resp.NextCursor) {
			break
		}
		cursor = resp.NextCursor
	}
	return out, nil
}

// QueryEvents implements Reader.
func (r *RPC) QueryEvents(ctx context.Context, eventType string, limit int) ([]Event, error) {
	var resp suiPage[suiEvent]
	if err := r.call(ctx, "suix_queryEvents", &resp, map[string]any{"MoveEventType": eventType}, nil, limit, true); err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(resp.Data))
	for _, e := range resp.Data {
		out = append(out, toEvent(e))
	}
	return out, nil
}

// Balance implements Ledger.
func (r *RPC) Balance(ctx context.Context, owner string) (uint64, error) {
	var resp struct {
		TotalBalance json.Number `json:"totalBalance"`
	}
	if err := r.call(ctx, "suix_getBalance", &resp, owner, CoinType); err != nil {
		return 0, err
	}
	return strconv.ParseUint(resp.TotalBalance.String(), 10, 64)
}

// Transaction implements Ledger.
func (r *RPC) Transaction(ctx context.Context, digest string) (*TxResult, error) {
	var resp suiTxResponse
	if err := r.call(ctx, "sui_getTransactionBlock", &resp, digest, txOptions); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "could not find") {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTxResult(&resp)
}

// Submit implements Submitter: build with unsafe_moveCall, sign, execute.
func (r *RPC) Submit(ctx context.Context, sender string, call Call, sign SignFunc) (*TxResult, error) {
	args := append([]any(nil), call.Args...)
	if call.Payment > 0 {
		coin, err := r.paymentCoin(ctx, sender, call.Payment, sign)
		if err != nil {
			return nil, err
		}
		args = append(args, coin)
	}

	var built suiTxBytes
	if err := r.call(ctx, "unsafe_moveCall", &built,
		sender, call.Package, call.Module, call.Function, []string{}, args, nil, strconv.FormatUint(r.gasBudget, 10),
	); err != nil {
		return nil, err
	}
	return r.execute(ctx, built.TxBytes, sign)
}

// paymentCoin returns a coin worth exactly amount, splitting one off a larger coin if needed.
// Gas is paid from a different coin object, so the sender needs at least two.
func (r *RPC) paymentCoin(ctx context.Context, owner string, amount uint64, sign SignFunc) (string, error) {
	var coins suiPage[suiCoin]
	if err := r.call(ctx, "suix_getCoins", &coins, owner, CoinType, nil, coinPageSize); err != nil {
		return "", err
	}

	var source string
	var sourceBal uint64
	for _, c := range coins.Data {
		bal, err := strconv.ParseUint(c.Balance.String(), 10, 64)
		if err != nil {
			continue
		}
		if bal == amount && len(coins.Data) > 1 {
			return c.CoinObjectID, nil
		}
		if bal > amount && (source == "" || bal < sourceBal) {
			source, sourceBal = c.CoinObjectID, bal
		}
	}
	if source == "" {
		return "", &TxError{Message: fmt.Sprintf("insufficient balance: no coin covers %d MIST", amount)}
	}
	if len(coins.Data) < 2 {
		return "", &TxError{Message: "payment needs a separate coin object for gas; merge or transfer funds to create one"}
	}

	var built suiTxBytes
	if err := r.call(ctx, "unsafe_splitCoin", &built,
		owner, source, []string{strconv.FormatUint(amount, 10)}, nil, strconv.FormatUint(r.gasBudget, 10),
	); err != nil {
		return "", err
	}
	res, err := r.execute(ctx, built.TxBytes, sign)
	if err != nil {
		return "", fmt.Errorf("split payment coin: %w", err)
	}
	id, ok := res.CreatedOfType(CoinObjectType)
	if !ok {
		return "", fmt.Errorf("split payment coin: no coin created in %s", res.Digest)
	}
	return id, nil
}

func (r *RPC) execute(ctx context.Context, txBytesB64 string, sign SignFunc) (*TxResult, error) {
	raw, err := base64.StdEncoding.DecodeString(txBytesB64)
	if err != nil {
		return nil, fmt.Errorf("decode tx bytes: %w", err)
	}
	sig, err := sign(raw)
	if err != nil {
		return nil, err
	}

	var resp suiTxResponse
	if err := r.call(ctx, "sui_executeTransactionBlock", &resp,
		txBytesB64, []string{sig}, txOptions, "WaitForLocalExecution",
	); err != nil {
		return nil, err
	}
	return toTxResult(&resp)
}

func toTxResult(resp *suiTxResponse) (*TxResult, error) {
	if resp.Effects != nil && resp.Effects.Status.Status != "success" {
		msg := resp.Effects.Status.Error
		if msg == "" {
			msg = "transaction failed"
		}
		return nil, &TxError{Digest: resp.Digest, Message: msg}
	}
	res := &TxResult{Digest: resp.Digest}
	for _, ch := range resp.ObjectChanges {
		if ch.Type == "created" {
			res.Created = append(res.Created, ObjectRef{ID: ch.ObjectID, Type: ch.ObjectType})
		}
	}
	for _, e := range resp.Events {
		res.Events = append(res.Events, toEvent(e))
	}
	return res, nil
}

func toObject(d *suiObjectData) Object {
	o := Object{
		ID:      d.ObjectID,
		Type:    d.Type,
		Owner:   decodeOwner(d.Owner),
		Version: d.Version.String(),
	}
	if d.Content != nil {
		o.Fields = d.Content.Fields
		if o.Type == "" {
			o.Type = d.Content.Type
		}
	}
	if o.Fields == nil {
		o.Fields = map[string]any{}
	}
	return o
}

func toEvent(e suiEvent) Event {
	ev := Event{
		Type:     e.Type,
		Sender:   e.Sender,
		TxDigest: e.ID.TxDigest,
		Fields:   e.ParsedJSON,
	}
	if ms, err := strconv.ParseInt(e.TimestampMs.String(), 10, 64); err == nil {
		ev.Timestamp = time.UnixMilli(ms).UTC()
	}
	if ev.Fields == nil {
		ev.Fields = map[string]any{}
	}
	return ev
}

// decodeOwner flattens the node's owner encodings into an address or a marker.
func decodeOwner(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.ToLower(s)
	}
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return ""
	}
	if v, ok := m["AddressOwner"]; ok {
		_ = json.Unmarshal(v, &s)
		return s
	}
	if v, ok := m["ObjectOwner"]; ok {
		_ = json.Unmarshal(v, &s)
		return s
	}
	if _, ok := m["Shared"]; ok {
		return "shared"
	}
	return ""
}

func isNullCursor(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
