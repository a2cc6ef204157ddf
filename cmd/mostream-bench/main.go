// Copyright 2021 - 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// mostream-bench drives a write/read/promote workload against a pool
// manager and reports the pool accounting, for soak testing and manual
// leak checks.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/matrixorigin/mostream/pkg/common/mstream"
	"github.com/matrixorigin/mostream/pkg/logutil"
)

type config struct {
	Pool struct {
		BlockSize           int64 `toml:"block-size"`
		LargeBufferMultiple int64 `toml:"large-buffer-multiple"`
		MaximumBufferSize   int64 `toml:"maximum-buffer-size"`
		Exponential         bool  `toml:"exponential"`
		AggressiveReturn    bool  `toml:"aggressive-return"`
		MaxFreeSmallBytes   int64 `toml:"max-free-small-bytes"`
		MaxFreeLargeBytes   int64 `toml:"max-free-large-bytes"`
	} `toml:"pool"`

	Workload struct {
		Streams         int  `toml:"streams"`
		WritesPerStream int  `toml:"writes-per-stream"`
		WriteSize       int  `toml:"write-size"`
		Concurrency     int  `toml:"concurrency"`
		GetBuffer       bool `toml:"get-buffer"`
	} `toml:"workload"`

	Log logutil.LogConfig `toml:"log"`
}

func defaultConfig() *config {
	var cfg config
	cfg.Pool.BlockSize = mstream.DefaultBlockSize
	cfg.Pool.LargeBufferMultiple = mstream.DefaultLargeBufferMultiple
	cfg.Pool.MaximumBufferSize = mstream.DefaultMaximumBufferSize
	cfg.Workload.Streams = 1000
	cfg.Workload.WritesPerStream = 64
	cfg.Workload.WriteSize = 4096
	cfg.Workload.Concurrency = 8
	cfg.Workload.GetBuffer = true
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return &cfg
}

func main() {
	cfgFile := flag.String("cfg", "", "path to a TOML configuration file")
	flag.Parse()

	cfg := defaultConfig()
	if *cfgFile != "" {
		if _, err := toml.DecodeFile(*cfgFile, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "decode %s: %v\n", *cfgFile, err)
			os.Exit(1)
		}
	}
	logutil.SetupLogger(&cfg.Log)

	m, err := mstream.NewPoolManager(
		cfg.Pool.BlockSize, cfg.Pool.LargeBufferMultiple, cfg.Pool.MaximumBufferSize, cfg.Pool.Exponential)
	if err != nil {
		logutil.Fatalf("build pool manager: %v", err)
	}
	m.SetAggressiveBufferReturn(cfg.Pool.AggressiveReturn)
	m.SetMaximumFreeSmallPoolBytes(cfg.Pool.MaxFreeSmallBytes)
	m.SetMaximumFreeLargePoolBytes(cfg.Pool.MaxFreeLargeBytes)

	payload := make([]byte, cfg.Workload.WriteSize)
	if _, err := rand.Read(payload); err != nil {
		logutil.Fatalf("build payload: %v", err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	perWorker := cfg.Workload.Streams / cfg.Workload.Concurrency
	if perWorker == 0 {
		perWorker = 1
	}
	for w := 0; w < cfg.Workload.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := runStream(m, cfg, payload, worker, i); err != nil {
					logutil.Errorf("worker %d stream %d: %v", worker, i, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	logutil.Info("workload done",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("smallPoolFree", m.SmallPoolFreeSize()),
		zap.Int64("smallPoolInUse", m.SmallPoolInUseSize()),
		zap.Int64("largePoolFree", m.LargePoolFreeSize()),
		zap.Int64("largePoolInUse", m.LargePoolInUseSize()))

	if m.SmallPoolInUseSize() != 0 || m.LargePoolInUseSize() != 0 {
		logutil.Fatal("pool leak: in-use bytes remain after all streams closed")
	}
}

func runStream(m *mstream.PoolManager, cfg *config, payload []byte, worker, i int) error {
	s, err := m.GetStream(fmt.Sprintf("bench-%d-%d", worker, i))
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	for j := 0; j < cfg.Workload.WritesPerStream; j++ {
		if _, err := s.Write(payload); err != nil {
			return err
		}
	}
	if cfg.Workload.GetBuffer {
		if _, err := s.GetBuffer(); err != nil {
			return err
		}
	}
	out, err := s.ToArray()
	if err != nil {
		return err
	}
	if len(out) != cfg.Workload.WritesPerStream*cfg.Workload.WriteSize {
		return fmt.Errorf("bad round trip length %d", len(out))
	}
	return nil
}
