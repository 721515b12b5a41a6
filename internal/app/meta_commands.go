package app

import (
	"context"
	"time"

	"github.com/ggonzalez94/swapexec/internal/model"
	"github.com/ggonzalez94/swapexec/internal/registry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (s *runtimeState) newMetaCommand() *cobra.Command {
	root := &cobra.Command{Use: "meta", Short: "Blockchain metadata"}

	var refresh bool
	blockchainsCmd := &cobra.Command{
		Use:   "blockchains",
		Short: "List blockchains known to the swap API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if refresh && s.cache != nil {
				if err := s.cache.Delete(blockchainsCacheKey()); err != nil {
					s.logger.Warn("drop cached blockchains", zap.Error(err))
				}
			}
			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), blockchainsCacheKey(), blockchainsTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, error) {
				start := time.Now()
				metas, err := s.ensureAPI().Blockchains(ctx)
				return metas, []model.ProviderStatus{apiStatus("meta/blockchains", start, err)}, nil, err
			})
		},
	}
	blockchainsCmd.Flags().BoolVar(&refresh, "refresh", false, "Drop the cached entry before fetching")
	root.AddCommand(blockchainsCmd)

	root.AddCommand(&cobra.Command{
		Use:   "chains",
		Short: "List chains this CLI can sign for, with resolved chain ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids := s.chainIDs()
			type chainRow struct {
				Name    string `json:"name"`
				Type    string `json:"type"`
				ChainID string `json:"chain_id,omitempty"`
				RPC     string `json:"rpc,omitempty"`
			}
			rows := []chainRow{}
			for _, c := range registry.Chains() {
				row := chainRow{Name: c.Name, Type: string(c.Type), ChainID: ids[c.Name], RPC: c.DefaultRPC}
				if c.EVMChainID != 0 {
					if url, err := registry.ResolveRPCURL(s.settings.EVMRPCURLs, c.EVMChainID); err == nil {
						row.RPC = url
					}
				}
				rows = append(rows, row)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), rows, nil, cacheMetaBypass(), nil, false)
		},
	})
	return root
}

func (s *runtimeState) newSignersCommand() *cobra.Command {
	root := &cobra.Command{Use: "signers", Short: "Inspect locally configured signers"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered signers and their capabilities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := s.ensureSigners()
			warnings := append([]string(nil), s.signerWarnings...)
			s.captureCommandDiagnostics(warnings, nil, false)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), reg.Describe(), warnings, cacheMetaBypass(), nil, false)
		},
	})
	return root
}
