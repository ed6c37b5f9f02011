package turn

import "github.com/lanikai/rtcsecure/internal/stun"

func newTestSuccessResponse(txID string) ([]byte, error) {
	msg, err := stun.New(stun.SuccessResponse, stun.AllocateMethod, txID)
	if err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}
