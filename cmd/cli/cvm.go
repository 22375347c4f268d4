package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-network/core/cvm"
)

var (
	cvmOnce sync.Once
	cvmLog  = logrus.StandardLogger()
)

func cvmInit(cmd *cobra.Command, _ []string) error {
	var err error
	cvmOnce.Do(func() {
		_ = godotenv.Load()
		lvl := os.Getenv("LOG_LEVEL")
		if lvl == "" {
			lvl = "info"
		}
		lv, e := logrus.ParseLevel(lvl)
		if e != nil {
			err = e
			return
		}
		cvmLog.SetLevel(lv)
		cvm.SetLogger(cvmLog)
	})
	return err
}

func parsePubKeyFlag(cmd *cobra.Command, name string) (cvm.PubKey, error) {
	s, err := cmd.Flags().GetString(name)
	if err != nil {
		return cvm.PubKey{}, err
	}
	return cvm.PubKeyFromBase58(s)
}

func cvmHandleCatalogue(cmd *cobra.Command, _ []string) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(cvm.Catalogue())
}

func cvmHandleAddress(cmd *cobra.Command, _ []string) error {
	mint, err := parsePubKeyFlag(cmd, "mint")
	if err != nil {
		return err
	}
	authority, err := parsePubKeyFlag(cmd, "authority")
	if err != nil {
		return err
	}
	daysStr, _ := cmd.Flags().GetString("lock-days")
	days, err := strconv.ParseUint(daysStr, 10, 8)
	if err != nil {
		return err
	}

	vmAddr, bump := cvm.VMAddress(mint, authority, uint8(days))
	omnibus, omnibusBump := cvm.OmnibusAddress(vmAddr)

	out := struct {
		VM          string `json:"vm"`
		VMBump      uint8  `json:"vm_bump"`
		Omnibus     string `json:"omnibus"`
		OmnibusBump uint8  `json:"omnibus_bump"`
	}{vmAddr.String(), bump, omnibus.String(), omnibusBump}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func cvmHandleMemoryAddress(cmd *cobra.Command, args []string) error {
	vmAddr, err := parsePubKeyFlag(cmd, "vm")
	if err != nil {
		return err
	}
	var name [cvm.MaxNameLen]byte
	copy(name[:], args[0])

	addr, bump := cvm.MemoryAddress(name, vmAddr)
	fmt.Fprintf(cmd.OutOrStdout(), "%s bump=%d\n", addr, bump)
	return nil
}

var cvmCmd = &cobra.Command{
	Use:               "cvm",
	Short:             "Code virtual machine inspection and address derivation",
	PersistentPreRunE: cvmInit,
}

var cvmCatalogueCmd = &cobra.Command{
	Use:   "catalogue",
	Short: "List the registered Exec opcodes",
	RunE:  cvmHandleCatalogue,
}

var cvmAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Derive a VM's root and omnibus vault address",
	RunE:  cvmHandleAddress,
}

var cvmMemoryAddressCmd = &cobra.Command{
	Use:   "memory-address <name>",
	Args:  cobra.ExactArgs(1),
	Short: "Derive a named memory bank's address under a VM",
	RunE:  cvmHandleMemoryAddress,
}

func init() {
	cvmAddressCmd.Flags().String("mint", "", "base58 mint pubkey")
	cvmAddressCmd.Flags().String("authority", "", "base58 authority pubkey")
	cvmAddressCmd.Flags().String("lock-days", "0", "lock duration in days")

	cvmMemoryAddressCmd.Flags().String("vm", "", "base58 VM address")

	cvmCmd.AddCommand(cvmCatalogueCmd, cvmAddressCmd, cvmMemoryAddressCmd)
}

// CvmCmd is the cvm debug command group, mounted by cmd/synnergy.
var CvmCmd = cvmCmd
