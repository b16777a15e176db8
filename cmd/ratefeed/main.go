package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tresolabs/treso/pkg/api"
	"github.com/tresolabs/treso/pkg/crypto"
)

// ratefeed drives a random-walk price into a running tresod: every tick
// the rate drifts up to ±10% from the base price, mimicking normal
// market noise. Useful for local runs and soak tests.
func main() {
	apiURL := flag.String("api", "http://localhost:8080", "tresod API base URL")
	keyHex := flag.String("key", "", "rate setter private key (hex)")
	baseHex := flag.String("base", "", "base token address")
	quoteHex := flag.String("quote", "", "quote token address")
	basePrice := flag.Float64("price", 10000.0, "base price (quote per base)")
	interval := flag.Duration("interval", 5*time.Second, "tick interval")
	flag.Parse()

	if *keyHex == "" || *baseHex == "" || *quoteHex == "" {
		fmt.Println("usage: ratefeed -key <hex> -base <addr> -quote <addr> [-api URL] [-price N] [-interval D]")
		os.Exit(1)
	}

	signer, err := crypto.FromPrivateKeyHex(*keyHex)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	base := common.HexToAddress(*baseHex)
	quote := common.HexToAddress(*quoteHex)

	fmt.Printf("Feeding %s/%s around %.2f as %s\n", base.Hex(), quote.Hex(), *basePrice, signer.Address().Hex())

	for {
		// ±10% drift from the base price each tick
		price := *basePrice * (1 + (rand.Float64()*0.2 - 0.1))
		rate, _ := new(big.Float).Mul(
			big.NewFloat(price),
			new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
		).Int(nil)

		if err := pushRate(*apiURL, signer, base, quote, rate); err != nil {
			fmt.Printf("push failed: %v\n", err)
		} else {
			fmt.Printf("rate %s -> %s = %s\n", base.Hex(), quote.Hex(), rate.String())
		}
		time.Sleep(*interval)
	}
}

func pushRate(apiURL string, signer *crypto.Signer, base, quote common.Address, rate *big.Int) error {
	hash := ethcrypto.Keccak256Hash(api.SetRateMessage(base, quote, rate))
	sig, err := signer.Sign(hash.Bytes())
	if err != nil {
		return err
	}

	body, err := json.Marshal(api.SetRateRequest{
		Base:      base.Hex(),
		Quote:     quote.Hex(),
		Rate:      rate.String(),
		Signature: fmt.Sprintf("0x%x", sig),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, apiURL+"/api/v1/rates", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
