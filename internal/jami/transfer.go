package jami

import (
	"fmt"
	"reflect"
)

// ///////////////////////////////////////////////
// TransferInfo
// ///////////////////////////////////////////////

// TransferInfo describes one file transfer. The daemon exchanges it as an
// 11-field struct, signature (suuxxssssss), in declaration order. Both
// [TransferInfo.Tuple] and [TransferInfoFromTuple] walk the fields by index,
// so reordering fields here changes the wire layout in both directions.
type TransferInfo struct {
	AccountID      string
	LastEvent      uint32
	Flags          uint32
	TotalSize      int64
	BytesProgress  int64
	Author         string
	Peer           string
	ConversationID string
	DisplayName    string
	Path           string
	MimeType       string
}

// transferInfoName labels codec errors.
const transferInfoName = "TransferInfo"

// Tuple returns the fields in wire order.
func (t TransferInfo) Tuple() []any {
	v := reflect.ValueOf(t)
	out := make([]any, v.NumField())
	for i := range out {
		out[i] = v.Field(i).Interface()
	}
	return out
}

// TransferInfoFromTuple rebuilds a TransferInfo from its wire tuple. Every
// element must have exactly the field's Go type.
func TransferInfoFromTuple(tuple []any) (TransferInfo, error) {
	var t TransferInfo
	v := reflect.ValueOf(&t).Elem()

	if len(tuple) != v.NumField() {
		return TransferInfo{}, &ContractError{
			Signal: transferInfoName,
			Index:  -1,
			Want:   fmt.Sprintf("%d fields", v.NumField()),
			Got:    fmt.Sprintf("%d fields", len(tuple)),
		}
	}
	for i, x := range tuple {
		f := v.Field(i)
		xv := reflect.ValueOf(x)
		if !xv.IsValid() || xv.Type() != f.Type() {
			return TransferInfo{}, &ContractError{
				Signal: transferInfoName,
				Index:  i,
				Want:   f.Type().String(),
				Got:    typeName(x),
			}
		}
		f.Set(xv)
	}
	return t, nil
}

// Event returns LastEvent as a [TransferEventCode].
func (t TransferInfo) Event() TransferEventCode {
	return TransferEventCode(t.LastEvent)
}

// Progress returns the completed fraction in [0, 1], or 0 when the total
// size is unknown.
func (t TransferInfo) Progress() float64 {
	if t.TotalSize <= 0 {
		return 0
	}
	p := float64(t.BytesProgress) / float64(t.TotalSize)
	return min(max(p, 0), 1)
}
