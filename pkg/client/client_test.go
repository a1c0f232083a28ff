package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- Mock JSON-RPC Server Infrastructure ----

type jrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type jrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jrpcError      `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type jrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type methodHandler func(params json.RawMessage) (json.RawMessage, *jrpcError)

func newMockRPCServer(t *testing.T, handlers map[string]methodHandler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		defer r.Body.Close()

		w.Header().Set("Content-Type", "application/json")

		trimmed := strings.TrimSpace(string(body))
		if strings.HasPrefix(trimmed, "[") {
			var reqs []jrpcRequest
			if err := json.Unmarshal(body, &reqs); err != nil {
				http.Error(w, "invalid batch", 400)
				return
			}
			var responses []jrpcResponse
			for _, req := range reqs {
				responses = append(responses, dispatchRequest(req, handlers))
			}
			json.NewEncoder(w).Encode(responses)
			return
		}

		var req jrpcRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid request", 400)
			return
		}
		json.NewEncoder(w).Encode(dispatchRequest(req, handlers))
	}))
	t.Cleanup(server.Close)
	return server
}

func dispatchRequest(req jrpcRequest, handlers map[string]methodHandler) jrpcResponse {
	resp := jrpcResponse{JSONRPC: "2.0", ID: req.ID}
	handler, ok := handlers[req.Method]
	if !ok {
		resp.Error = &jrpcError{Code: -32601, Message: "method not found: " + req.Method}
		return resp
	}
	result, rpcErr := handler(req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

func newTestClient(t *testing.T, handlers map[string]methodHandler) *Client {
	t.Helper()
	server := newMockRPCServer(t, handlers)
	rpcClient, err := rpc.DialContext(context.Background(), server.URL)
	require.NoError(t, err)
	t.Cleanup(rpcClient.Close)

	return &Client{
		ethClient: ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
		endpoint:  server.URL,
		logger:    zap.NewNop(),
	}
}

// ---- JSON Response Helpers ----

func zeroLogsBloom() string {
	return "0x" + strings.Repeat("00", 256)
}

func makeBlockJSON(number uint64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"hash":"0xb903239f8543d04b5dc1ba6579132b143087c68db1b2168786408fcbce568238",
		"parentHash":"0x0000000000000000000000000000000000000000000000000000000000000000",
		"sha3Uncles":"0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347",
		"miner":"0x0000000000000000000000000000000000000000",
		"stateRoot":"0x0000000000000000000000000000000000000000000000000000000000000000",
		"transactionsRoot":"0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
		"receiptsRoot":"0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
		"logsBloom":"%s",
		"difficulty":"0x0",
		"number":"0x%x",
		"gasLimit":"0x1000000",
		"gasUsed":"0x0",
		"timestamp":"0x0",
		"extraData":"0x",
		"mixHash":"0x0000000000000000000000000000000000000000000000000000000000000000",
		"nonce":"0x0000000000000000",
		"baseFeePerGas":"0x0",
		"totalDifficulty":"0x0",
		"transactions":[],
		"uncles":[],
		"size":"0x0"
	}`, zeroLogsBloom(), number))
}

func chainIDHandler() methodHandler {
	return func(_ json.RawMessage) (json.RawMessage, *jrpcError) {
		return json.RawMessage(`"0x1"`), nil
	}
}

func rpcErrorHandler(msg string) methodHandler {
	return func(_ json.RawMessage) (json.RawMessage, *jrpcError) {
		return nil, &jrpcError{Code: -32000, Message: msg}
	}
}

func makeLogJSON(blockHash string, index uint, topics ...string) json.RawMessage {
	quoted := make([]string, len(topics))
	for i, t := range topics {
		quoted[i] = `"` + t + `"`
	}
	return json.RawMessage(fmt.Sprintf(`{
		"address":"0x0000000000000000000000000000000000000abc",
		"topics":[%s],
		"data":"0x",
		"blockNumber":"0x5",
		"transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000aa",
		"transactionIndex":"0x1",
		"blockHash":"%s",
		"logIndex":"0x%x",
		"removed":false
	}`, strings.Join(quoted, ","), blockHash, index))
}

// ---- Tests: NewClient ----

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "config cannot be nil")
	})

	t.Run("empty endpoint", func(t *testing.T) {
		client, err := NewClient(&Config{Endpoint: ""})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "endpoint cannot be empty")
	})

	t.Run("invalid endpoint", func(t *testing.T) {
		client, err := NewClient(&Config{
			Endpoint: "invalid://endpoint",
			Timeout:  5 * time.Second,
		})
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("success", func(t *testing.T) {
		server := newMockRPCServer(t, map[string]methodHandler{
			"eth_chainId": chainIDHandler(),
		})
		client, err := NewClient(&Config{
			Endpoint: server.URL,
			Timeout:  5 * time.Second,
		})
		require.NoError(t, err)
		require.NotNil(t, client)
		defer client.Close()

		assert.Equal(t, server.URL, client.Endpoint())
	})

	t.Run("ping failure", func(t *testing.T) {
		server := newMockRPCServer(t, map[string]methodHandler{
			"eth_chainId": rpcErrorHandler("connection refused"),
		})
		client, err := NewClient(&Config{
			Endpoint: server.URL,
			Timeout:  5 * time.Second,
		})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "failed to ping")
	})
}

func TestClient_Close(t *testing.T) {
	c := &Client{}
	c.Close() // should not panic
}

func TestClient_GetChainID(t *testing.T) {
	client := newTestClient(t, map[string]methodHandler{
		"eth_chainId": chainIDHandler(),
	})

	id, err := client.GetChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.Int64())
}

// ---- Tests: Headers ----

func TestClient_FinalizedHeader(t *testing.T) {
	var gotTag string
	client := newTestClient(t, map[string]methodHandler{
		"eth_getBlockByNumber": func(params json.RawMessage) (json.RawMessage, *jrpcError) {
			var args []interface{}
			_ = json.Unmarshal(params, &args)
			if len(args) > 0 {
				gotTag, _ = args[0].(string)
			}
			return makeBlockJSON(42), nil
		},
	})

	header, err := client.FinalizedHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), header.Number.Uint64())
	assert.Equal(t, "finalized", gotTag)
}

func TestClient_HeaderByNumber(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, map[string]methodHandler{
			"eth_getBlockByNumber": func(_ json.RawMessage) (json.RawMessage, *jrpcError) {
				return makeBlockJSON(7), nil
			},
		})

		header, err := client.HeaderByNumber(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), header.Number.Uint64())
	})

	t.Run("not found", func(t *testing.T) {
		client := newTestClient(t, map[string]methodHandler{
			"eth_getBlockByNumber": func(_ json.RawMessage) (json.RawMessage, *jrpcError) {
				return json.RawMessage(`null`), nil
			},
		})

		_, err := client.HeaderByNumber(context.Background(), 7)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get header 7")
	})
}

// ---- Tests: Logs ----

func TestClient_LogsByBlockHash(t *testing.T) {
	blockHash := "0xb903239f8543d04b5dc1ba6579132b143087c68db1b2168786408fcbce568238"
	topic := "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

	var gotFilter map[string]interface{}
	client := newTestClient(t, map[string]methodHandler{
		"eth_getLogs": func(params json.RawMessage) (json.RawMessage, *jrpcError) {
			var args []map[string]interface{}
			_ = json.Unmarshal(params, &args)
			if len(args) > 0 {
				gotFilter = args[0]
			}
			return json.RawMessage(fmt.Sprintf("[%s,%s]",
				makeLogJSON(blockHash, 0, topic),
				makeLogJSON(blockHash, 1, topic),
			)), nil
		},
	})

	logs, err := client.LogsByBlockHash(context.Background(), common.HexToHash(blockHash), nil)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, uint(1), logs[1].Index)
	assert.Equal(t, uint(1), logs[0].TxIndex)
	assert.Equal(t, blockHash, gotFilter["blockHash"])
	_, hasFrom := gotFilter["fromBlock"]
	assert.False(t, hasFrom)
}

func TestClient_LogsByBlockHashError(t *testing.T) {
	client := newTestClient(t, map[string]methodHandler{
		"eth_getLogs": rpcErrorHandler("unknown block"),
	})

	_, err := client.LogsByBlockHash(context.Background(), common.Hash{}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get logs")
}
