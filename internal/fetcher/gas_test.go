package fetcher

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

type stubGasReader struct {
	wei *big.Int
	err error
}

func (s stubGasReader) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return s.wei, s.err
}

func TestGasOracleMissingConfig(t *testing.T) {
	oracle := NewGasOracle(GasOracleOptions{}, noopLogger())
	if oracle.Enabled("base") {
		t.Fatal("oracle without rpc urls should be disabled")
	}
	if _, err := oracle.GasPriceGwei(context.Background(), "base"); !errors.Is(err, ErrGasOracleNotConfigured) {
		t.Fatalf("expected ErrGasOracleNotConfigured, got %v", err)
	}

	var nilOracle *GasOracle
	if nilOracle.Enabled("base") {
		t.Fatal("nil oracle should be disabled")
	}
}

func TestGasOracleCachesClient(t *testing.T) {
	dials := 0
	oracle := NewGasOracle(GasOracleOptions{RPCURLs: map[string]string{"base": "http://localhost:8545"}}, noopLogger())
	oracle.dial = func(ctx context.Context, rawURL string) (GasPriceReader, error) {
		dials++
		return stubGasReader{wei: big.NewInt(1_500_000_000)}, nil
	}

	for i := 0; i < 2; i++ {
		gwei, err := oracle.GasPriceGwei(context.Background(), "base")
		if err != nil {
			t.Fatalf("gas price should succeed: %v", err)
		}
		if !gwei.Equal(decimal.RequireFromString("1.5")) {
			t.Fatalf("expected 1.5 gwei, got %s", gwei)
		}
	}
	if dials != 1 {
		t.Fatalf("client should be dialled once, got %d", dials)
	}
}

func TestGasOraclePropagatesErrors(t *testing.T) {
	oracle := NewGasOracle(GasOracleOptions{RPCURLs: map[string]string{"base": "http://localhost:8545"}}, noopLogger())
	oracle.dial = func(ctx context.Context, rawURL string) (GasPriceReader, error) {
		return stubGasReader{err: errors.New("rpc down")}, nil
	}
	if _, err := oracle.GasPriceGwei(context.Background(), "base"); err == nil {
		t.Fatal("rpc failure should surface")
	}
}
