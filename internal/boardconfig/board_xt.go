//go:build board_xt

package boardconfig

func init() {
	Current = Identity{
		Make:     "ibm",
		Model:    "model-f-xt",
		Protocol: ProtocolXT,
		Codeset:  "set1",
		Layout:   "ansi83",
	}
}
