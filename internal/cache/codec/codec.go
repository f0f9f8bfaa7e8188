// Package codec сериализует кешевые значения: компактный JSON для обычных
// структур документов и gob как запасной формат для значений, которые JSON
// представить не может.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"time"
)

// Байт-префикс кодирует формат тела; без него десериализация не знает,
// каким декодером читать значение.
const (
	prefixJSON = byte('j')
	prefixGob  = byte('g')
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register(time.Time{})
	gob.Register(int64(0))
	gob.Register(float64(0))
}

// Encode сериализует значение: сначала JSON, при его отказе gob.
func Encode(value any) ([]byte, error) {
	body, err := json.Marshal(value)
	if err == nil {
		return append([]byte{prefixJSON}, body...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(prefixGob)
	if gobErr := gob.NewEncoder(&buf).Encode(&value); gobErr != nil {
		return nil, fmt.Errorf("encode cache value: json: %v; gob: %w", err, gobErr)
	}
	return buf.Bytes(), nil
}

// Decode восстанавливает значение по байт-префиксу формата.
func Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode cache value: empty payload")
	}

	switch data[0] {
	case prefixJSON:
		var value any
		if err := json.Unmarshal(data[1:], &value); err != nil {
			return nil, fmt.Errorf("decode cache value: %w", err)
		}
		return value, nil
	case prefixGob:
		var value any
		if err := gob.NewDecoder(bytes.NewReader(data[1:])).Decode(&value); err != nil {
			return nil, fmt.Errorf("decode cache value: %w", err)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("decode cache value: unknown format prefix 0x%02x", data[0])
	}
}
