package ticket

import "sendmer/pkg/codec"

func marshalWire(w any) ([]byte, error) {
	return codec.Marshal(w)
}
