package store

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CommandType discriminates the store mutations carried in command
// entries.
type CommandType uint8

const (
	CommandCreateNode  CommandType = 1
	CommandDeleteNode  CommandType = 2
	CommandSetProperty CommandType = 3
)

var (
	// ErrUnknownCommand marks a payload with an unrecognized command type.
	ErrUnknownCommand = errors.New("store: unknown command type")

	// ErrCorruptCommand marks a payload that is too short or internally
	// inconsistent.
	ErrCorruptCommand = errors.New("store: corrupt command payload")
)

// Command is one store mutation. Commands are encoded into command log
// entries and replayed against the store during recovery.
type Command interface {
	CommandType() CommandType
}

// CreateNode adds a node with a pre-allocated id.
type CreateNode struct {
	ID     uint64
	Labels []string
}

func (CreateNode) CommandType() CommandType { return CommandCreateNode }

// DeleteNode removes a node.
type DeleteNode struct {
	ID uint64
}

func (DeleteNode) CommandType() CommandType { return CommandDeleteNode }

// SetProperty sets one property on a node.
type SetProperty struct {
	NodeID uint64
	Key    string
	Value  string
}

func (SetProperty) CommandType() CommandType { return CommandSetProperty }

// EncodeCommand serializes c into a command payload.
func EncodeCommand(c Command) ([]byte, error) {
	switch v := c.(type) {
	case CreateNode:
		if len(v.Labels) > int(^uint16(0)) {
			return nil, fmt.Errorf("%w: %d labels", ErrCorruptCommand, len(v.Labels))
		}

		buf := make([]byte, 0, 11+labelBytes(v.Labels))
		buf = append(buf, byte(CommandCreateNode))
		buf = binary.LittleEndian.AppendUint64(buf, v.ID)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(v.Labels)))

		for _, l := range v.Labels {
			var err error

			buf, err = appendString(buf, l)
			if err != nil {
				return nil, err
			}
		}

		return buf, nil
	case DeleteNode:
		buf := make([]byte, 0, 9)
		buf = append(buf, byte(CommandDeleteNode))
		buf = binary.LittleEndian.AppendUint64(buf, v.ID)

		return buf, nil
	case SetProperty:
		buf := make([]byte, 0, 13+len(v.Key)+len(v.Value))
		buf = append(buf, byte(CommandSetProperty))
		buf = binary.LittleEndian.AppendUint64(buf, v.NodeID)

		var err error

		if buf, err = appendString(buf, v.Key); err != nil {
			return nil, err
		}
		if buf, err = appendString(buf, v.Value); err != nil {
			return nil, err
		}

		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, c)
	}
}

// DecodeCommand deserializes a command payload.
func DecodeCommand(payload []byte) (Command, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: empty payload", ErrCorruptCommand)
	}

	typ := CommandType(payload[0])
	rest := payload[1:]

	switch typ {
	case CommandCreateNode:
		if len(rest) < 10 {
			return nil, fmt.Errorf("%w: create node payload has %d bytes", ErrCorruptCommand, len(rest))
		}

		cmd := CreateNode{ID: binary.LittleEndian.Uint64(rest[0:8])}
		count := int(binary.LittleEndian.Uint16(rest[8:10]))
		rest = rest[10:]

		for i := 0; i < count; i++ {
			var (
				label string
				err   error
			)

			label, rest, err = readString(rest)
			if err != nil {
				return nil, err
			}

			cmd.Labels = append(cmd.Labels, label)
		}

		return cmd, nil
	case CommandDeleteNode:
		if len(rest) != 8 {
			return nil, fmt.Errorf("%w: delete node payload has %d bytes", ErrCorruptCommand, len(rest))
		}

		return DeleteNode{ID: binary.LittleEndian.Uint64(rest)}, nil
	case CommandSetProperty:
		if len(rest) < 8 {
			return nil, fmt.Errorf("%w: set property payload has %d bytes", ErrCorruptCommand, len(rest))
		}

		cmd := SetProperty{NodeID: binary.LittleEndian.Uint64(rest[0:8])}
		rest = rest[8:]

		var err error

		if cmd.Key, rest, err = readString(rest); err != nil {
			return nil, err
		}
		if cmd.Value, rest, err = readString(rest); err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptCommand, len(rest))
		}

		return cmd, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, typ)
	}
}

func labelBytes(labels []string) int {
	n := 0
	for _, l := range labels {
		n += 2 + len(l)
	}

	return n
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > int(^uint16(0)) {
		return nil, fmt.Errorf("%w: string of %d bytes", ErrCorruptCommand, len(s))
	}

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))

	return append(buf, s...), nil
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("%w: string length cut off", ErrCorruptCommand)
	}

	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	if len(buf) < 2+n {
		return "", nil, fmt.Errorf("%w: string of %d bytes cut off", ErrCorruptCommand, n)
	}

	return string(buf[2 : 2+n]), buf[2+n:], nil
}
