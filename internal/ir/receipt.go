package ir

// Receipt is a validator's attestation of the outcome of an op.
type Receipt struct {
	OpHash         Hash             `json:"op_hash"`
	Status         ValidationStatus `json:"status"`
	Validator      AgentKey         `json:"validator"`
	WhenIntegrated Timestamp        `json:"when_integrated"`
}

// SigningBytes returns the domain-separated canonical bytes a validator signs.
func (r Receipt) SigningBytes() []byte {
	b, err := MarshalCanonical(IRObject{
		"domain":          IRString(DomainReceipt),
		"op_hash":         IRString(r.OpHash),
		"status":          IRString(r.Status),
		"validator":       IRString(r.Validator),
		"when_integrated": IRInt(r.WhenIntegrated),
	})
	if err != nil {
		panic(&InvariantError{Message: "receipt signing bytes: " + err.Error()})
	}
	return b
}

// SignedReceipt is a receipt plus the validator's signature.
type SignedReceipt struct {
	Receipt   Receipt `json:"receipt"`
	Signature []byte  `json:"signature"`
}
