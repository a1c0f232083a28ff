package source

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/0xmhha/event-indexer/pkg/types"
)

// UnknownMethodPrefix prefixes the method of logs without a registered ABI
const UnknownMethodPrefix = "Unknown."

// ContractABI holds the ABI of a watched contract
type ContractABI struct {
	Address   common.Address
	Name      string
	ABI       *abi.ABI
	EventSigs map[common.Hash]string // topic0 -> event name
}

// NewContractABI creates a new ContractABI from raw ABI JSON
func NewContractABI(address common.Address, name string, abiJSON string) (*ContractABI, error) {
	if name == "" {
		return nil, fmt.Errorf("contract name cannot be empty")
	}

	parsedABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	eventSigs := make(map[common.Hash]string)
	for eventName, event := range parsedABI.Events {
		eventSigs[event.ID] = eventName
	}

	return &ContractABI{
		Address:   address,
		Name:      name,
		ABI:       &parsedABI,
		EventSigs: eventSigs,
	}, nil
}

// Decoder turns raw logs into events named "Contract.Event"
type Decoder struct {
	mu        sync.RWMutex
	contracts map[common.Address]*ContractABI
}

// NewDecoder creates an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{contracts: make(map[common.Address]*ContractABI)}
}

// Register adds a contract ABI
func (d *Decoder) Register(contract *ContractABI) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.contracts[contract.Address]; exists {
		return fmt.Errorf("contract %s is already registered", contract.Address.Hex())
	}
	d.contracts[contract.Address] = contract
	return nil
}

// RegisterJSON parses abiJSON and registers it for address
func (d *Decoder) RegisterJSON(address common.Address, name, abiJSON string) error {
	contract, err := NewContractABI(address, name, abiJSON)
	if err != nil {
		return fmt.Errorf("contract %s: %w", name, err)
	}
	return d.Register(contract)
}

// Addresses returns the registered contract addresses in sorted order
func (d *Decoder) Addresses() []common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]common.Address, 0, len(d.contracts))
	for addr := range d.contracts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Decode converts a log. Logs from unknown contracts or with unknown or
// undecodable signatures become raw events so they still reach the registry
// lookup and are reported as unrecognized there.
func (d *Decoder) Decode(log *gethtypes.Log) types.Event {
	ev := types.Event{
		Phase: types.Phase{Kind: types.PhaseApplyExtrinsic, ExtrinsicIndex: uint32(log.TxIndex)},
	}

	d.mu.RLock()
	contract, ok := d.contracts[log.Address]
	d.mu.RUnlock()

	if !ok || len(log.Topics) == 0 {
		return rawEvent(ev, log)
	}

	eventName, ok := contract.EventSigs[log.Topics[0]]
	if !ok {
		return rawEvent(ev, log)
	}

	params, err := decodeParams(contract.ABI.Events[eventName], log)
	if err != nil {
		return rawEvent(ev, log)
	}

	ev.Method = contract.Name + "." + eventName
	ev.Name = eventName
	ev.Params = params
	return ev
}

func rawEvent(ev types.Event, log *gethtypes.Log) types.Event {
	sig := "anonymous"
	if len(log.Topics) > 0 {
		sig = log.Topics[0].Hex()
	}
	ev.Method = UnknownMethodPrefix + sig
	ev.Name = sig
	ev.Params = []types.EventParam{
		{Name: "address", Type: "address", Value: log.Address.Hex()},
		{Name: "data", Type: "bytes", Value: "0x" + hex.EncodeToString(log.Data)},
	}
	for i, topic := range log.Topics {
		ev.Params = append(ev.Params, types.EventParam{
			Name:  fmt.Sprintf("topic%d", i),
			Type:  "bytes32",
			Value: topic.Hex(),
		})
	}
	return ev
}

// decodeParams returns arguments in ABI declaration order
func decodeParams(event abi.Event, log *gethtypes.Log) ([]types.EventParam, error) {
	var values []interface{}
	if len(log.Data) > 0 {
		var err error
		values, err = event.Inputs.NonIndexed().UnpackValues(log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack event data: %w", err)
		}
	}

	params := make([]types.EventParam, 0, len(event.Inputs))
	nonIndexedIdx := 0
	topicIdx := 1 // topic[0] is event signature
	for _, input := range event.Inputs {
		var value interface{}
		if input.Indexed {
			if topicIdx >= len(log.Topics) {
				return nil, fmt.Errorf("missing topic for indexed argument %s", input.Name)
			}
			value = parseIndexedTopic(input, log.Topics[topicIdx])
			topicIdx++
		} else {
			if nonIndexedIdx >= len(values) {
				return nil, fmt.Errorf("missing data for argument %s", input.Name)
			}
			value = values[nonIndexedIdx]
			nonIndexedIdx++
		}

		params = append(params, types.EventParam{
			Name:  input.Name,
			Type:  input.Type.String(),
			Value: formatValue(value),
		})
	}
	return params, nil
}

// parseIndexedTopic parses an indexed topic based on its type
func parseIndexedTopic(input abi.Argument, topic common.Hash) interface{} {
	switch input.Type.T {
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes())
	case abi.UintTy:
		return new(big.Int).SetBytes(topic.Bytes())
	case abi.IntTy:
		// two's complement over 256 bits
		v := new(big.Int).SetBytes(topic.Bytes())
		if topic[0]&0x80 != 0 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
		}
		return v
	case abi.BoolTy:
		return topic[31] == 1
	default:
		// Dynamic types are stored as their keccak hash
		return topic
	}
}

// formatValue renders decoded values in a stable textual form
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case *big.Int:
		return v.String()
	case []byte:
		return "0x" + hex.EncodeToString(v)
	case [32]byte:
		return common.BytesToHash(v[:]).Hex()
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}
