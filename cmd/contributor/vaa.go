package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chainsafe/icco-contributor/pkg/icco"
	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

func newVAACmd() *cobra.Command {
	vaaCmd := &cobra.Command{
		Use:   "vaa",
		Short: "Inspect bridge messages",
	}
	vaaCmd.AddCommand(&cobra.Command{
		Use:   "inspect <hex>",
		Short: "Decode a VAA and its sale payload without verifying signatures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := inspectVAA(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	})
	return vaaCmd
}

type inspection struct {
	Version          uint8  `json:"version"`
	GuardianSetIndex uint32 `json:"guardian_set_index"`
	Signatures       int    `json:"signatures"`
	Timestamp        string `json:"timestamp"`
	Nonce            uint32 `json:"nonce"`
	EmitterChain     uint16 `json:"emitter_chain"`
	EmitterAddress   string `json:"emitter_address"`
	Sequence         uint64 `json:"sequence"`
	Hash             string `json:"hash"`
	Kind             string `json:"kind"`
	Action           any    `json:"action,omitempty"`
}

func inspectVAA(raw string) (*inspection, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	v, err := vaa.Unmarshal(data)
	if err != nil {
		return nil, err
	}

	out := &inspection{
		Version:          v.Version,
		GuardianSetIndex: v.GuardianSetIndex,
		Signatures:       len(v.Signatures),
		Timestamp:        v.Timestamp.Format("2006-01-02T15:04:05Z"),
		Nonce:            v.Nonce,
		EmitterChain:     uint16(v.EmitterChain),
		EmitterAddress:   "0x" + v.EmitterAddress.String(),
		Sequence:         v.Sequence,
		Hash:             v.Hash().Hex(),
		Kind:             "unknown",
	}

	if action, err := icco.DecodeAction(v.Payload); err == nil {
		out.Kind = action.Kind()
		out.Action = action
	} else if sealed, err := icco.DecodeContributionsSealed(v.Payload); err == nil {
		out.Kind = "contributions_sealed"
		out.Action = sealed
	}
	return out, nil
}
