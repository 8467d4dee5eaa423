// Command web serves the datadir reader's public surface over HTTP,
// pairing pkg/core's read handle with pkg/analyzer's JSON shapes.
package main

import (
	"net/http"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/richochetclementine1315/btc-datadir/internal/config"
	"github.com/richochetclementine1315/btc-datadir/internal/logger"
	"github.com/richochetclementine1315/btc-datadir/pkg/analyzer"
	"github.com/richochetclementine1315/btc-datadir/pkg/core"
)

func main() {
	dataDir := os.Getenv("BTC_DATADIR")
	if dataDir == "" {
		logger.Error("BTC_DATADIR not set")
		os.Exit(1)
	}
	network := os.Getenv("BTC_NETWORK")
	if network == "" {
		network = "mainnet"
	}

	handle, err := core.Open(config.DefaultOptions(dataDir))
	if err != nil {
		logger.Error("opening datadir", logger.ErrF(err))
		os.Exit(1)
	}
	defer handle.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "block_count": handle.BlockCount()})
	})

	r.GET("/api/block/:height", func(c *gin.Context) {
		height, err := strconv.ParseInt(c.Param("height"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid height"})
			return
		}
		block, err := handle.ConnectedBlock(int32(height))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, analyzer.AnalyzeConnectedBlock(block, network))
	})

	r.GET("/api/tx/:txid", func(c *gin.Context) {
		txid, err := chainhash.NewHashFromStr(c.Param("txid"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid txid"})
			return
		}
		ctx, err := handle.ConnectedTransaction(*txid)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, analyzer.AnalyzeConnectedTransaction(ctx, network))
	})

	if _, err := os.Stat("web/build"); err == nil {
		r.Static("/static", "web/build/static")
		r.StaticFile("/", "web/build/index.html")
		r.NoRoute(func(c *gin.Context) {
			c.File("web/build/index.html")
		})
	}

	logger.Info("listening", logger.String("addr", "http://127.0.0.1:"+port))
	if err := r.Run(":" + port); err != nil {
		logger.Error("server exited", logger.ErrF(err))
		os.Exit(1)
	}
}
