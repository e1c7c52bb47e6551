package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bookchat/internal/auth"
	"bookchat/internal/chat"
	"bookchat/internal/chromemdb"
	"bookchat/internal/config"
	"bookchat/internal/db"
	"bookchat/internal/embedding"
	"bookchat/internal/helper"
	"bookchat/internal/llmservice"
	"bookchat/internal/models"
	"bookchat/internal/parser"
	"bookchat/internal/rag"
	"bookchat/internal/session"
	"bookchat/internal/spreadsheet"
	"bookchat/internal/tui"
	"bookchat/internal/vectorstore"
	"bookchat/internal/web"
)

const (
	configFilePath = "./configs/config.yaml"
	tuiLogFile     = "bookchat.log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Path to the document file to index")
	bookKey := flag.String("book", "", "Key of the book in the config")
	useOCR := flag.Bool("ocr", false, "Rasterise and OCR the PDF instead of reading its text layer")
	dryRun := flag.Bool("dry-run", false, "Dry run, print the chunks and do not build an index")
	images := flag.Bool("images", false, "Extract the page images of the book PDF")
	questions := flag.Bool("questions", false, "Build the related questions index")
	query := flag.String("query", "", "Query to be answered")
	serve := flag.Bool("serve", false, "Run the web chat")
	chatUI := flag.Bool("chat", false, "Run the terminal chat")
	export := flag.String("export", "", "Export the book index as an encrypted file")
	resetQuota := flag.String("reset-quota", "", "Reset the query count of a session id")
	dropIndex := flag.String("drop-index", "", "Delete the named index from the vector store")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag, but not both")
	}

	switch {
	case *resetQuota != "":
		err = resetSessionQuota(ctx, cfg, *resetQuota)
	case *dropIndex != "":
		err = dropVectorIndex(ctx, cfg, *dropIndex)
	case *export != "":
		err = exportIndex(ctx, cfg, *bookKey, *export)
	case *questions:
		err = indexQuestions(ctx, cfg, *filePath)
	case *images:
		err = extractImages(ctx, cfg, *bookKey, *filePath)
	case *query != "":
		err = answerQuery(ctx, cfg, *bookKey, *query)
	case *serve:
		err = runServer(ctx, cfg)
	case *chatUI:
		err = runTUI(ctx, cfg)
	case *filePath != "" || *bookKey != "":
		err = indexBook(ctx, cfg, *bookKey, *filePath, *useOCR, *dryRun)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

// selectBook resolves -book, falling back to the first configured book.
func selectBook(cfg *config.Config, key string) (config.BookConfig, error) {
	if key == "" {
		if len(cfg.Books) == 0 {
			return config.BookConfig{}, fmt.Errorf("no books configured")
		}
		return cfg.Books[0], nil
	}
	book, ok := cfg.Book(key)
	if !ok {
		return config.BookConfig{}, fmt.Errorf("unknown book %q", key)
	}
	return book, nil
}

// openStorage returns the configured vector store and a function that
// releases it.
func openStorage(ctx context.Context, cfg *config.Config) (vectorstore.Storage, func(), error) {
	if cfg.RAG.Store == "pgvector" {
		dbClient, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		dbInstance := db.NewDB(dbClient, cfg.Database.Debug)
		if err := db.InitDB(ctx, dbInstance); err != nil {
			dbInstance.Close()
			return nil, nil, fmt.Errorf("initializing database: %w", err)
		}
		return db.NewStore(dbInstance), func() { dbInstance.Close() }, nil
	}

	if err := helper.CreateFolder(cfg.RAG.IndexDir); err != nil {
		return nil, nil, err
	}
	manager, err := chromemdb.NewVectorDBManager(cfg.RAG.IndexDir)
	if err != nil {
		return nil, nil, err
	}
	return manager, func() {}, nil
}

func newBatcher(ctx context.Context, cfg *config.Config) (*embedding.Batcher, error) {
	embedder, err := embedding.NewEmbedder(ctx, &cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	return embedding.NewBatcher(embedder, &cfg.LLM, cfg.RAG.BatchSize), nil
}

func indexBook(ctx context.Context, cfg *config.Config, bookKey, filePath string, useOCR, dryRun bool) error {
	var indexName string
	if filePath == "" || bookKey != "" {
		book, err := selectBook(cfg, bookKey)
		if err != nil {
			return err
		}
		if filePath == "" {
			filePath = book.File
		}
		indexName = book.Index
		useOCR = useOCR || book.OCR
	}
	if indexName == "" {
		indexName = parser.BookName(filePath)
	}

	opts := parser.Options{
		Book:      parser.BookName(filePath),
		OCR:       useOCR || cfg.OCR.Enabled,
		OCRConfig: cfg.OCR,
	}
	if opts.OCR {
		opts.Engine = parser.NewPoppler(cfg.OCR)
	}
	pages, err := parser.ParseDocument(ctx, filePath, opts)
	if err != nil {
		return err
	}
	log.Info().Str("file", filePath).Int("pages", len(pages)).Msg("Parsed document")

	chunks, err := parser.ChunkPages(pages, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.RAG.TagPages)
	if err != nil {
		return err
	}
	if dryRun {
		helper.PrettyPrint(chunks)
		return nil
	}

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	batcher, err := newBatcher(ctx, cfg)
	if err != nil {
		return err
	}

	manifest, err := rag.NewIndexer(store, batcher, cfg.LLM.EmbeddingModel).Build(ctx, indexName, chunks)
	if err != nil {
		return err
	}
	helper.PrettyPrint(manifest)
	return nil
}

func extractImages(ctx context.Context, cfg *config.Config, bookKey, filePath string) error {
	if filePath == "" {
		book, err := selectBook(cfg, bookKey)
		if err != nil {
			return err
		}
		filePath = book.File
	}
	if err := helper.CreateFolder(cfg.RAG.ImagesDir); err != nil {
		return err
	}
	written, err := parser.ExtractImages(ctx, filePath, cfg.RAG.ImagesDir)
	if err != nil {
		return err
	}
	log.Info().Int("images", len(written)).Str("dir", cfg.RAG.ImagesDir).Msg("Extracted page images")
	return nil
}

func indexQuestions(ctx context.Context, cfg *config.Config, filePath string) error {
	if filePath == "" {
		filePath = cfg.RAG.QuestionsFile
	}
	if filePath == "" {
		return fmt.Errorf("questions file is required")
	}
	questions, err := spreadsheet.LoadQuestions(filePath, cfg.RAG.QuestionsSheet)
	if err != nil {
		return err
	}

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	batcher, err := newBatcher(ctx, cfg)
	if err != nil {
		return err
	}

	manifest, err := rag.NewIndexer(store, batcher, cfg.LLM.EmbeddingModel).BuildQuestions(ctx, cfg.RAG.QuestionsIndex, questions)
	if err != nil {
		return err
	}
	helper.PrettyPrint(manifest)
	return nil
}

// loadPageMaps reads the optional spreadsheet of every book, keyed by the
// book name its chunks carry. A broken sheet only disables the fallback.
func loadPageMaps(cfg *config.Config) map[string][]models.PageMapEntry {
	maps := make(map[string][]models.PageMapEntry)
	for _, b := range cfg.Books {
		if b.PageMap == "" {
			continue
		}
		entries, err := spreadsheet.LoadPageMap(b.PageMap)
		if err != nil {
			log.Warn().Err(err).Str("book", b.Key).Msg("Page map not loaded")
			continue
		}
		maps[b.Name()] = entries
	}
	return maps
}

// buildRAG wires the query pipeline over an open store.
func buildRAG(ctx context.Context, cfg *config.Config, store vectorstore.Storage) (*rag.RAG, error) {
	llm, err := llmservice.NewModel(ctx, &cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initializing llm: %w", err)
	}
	batcher, err := newBatcher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	registry := rag.NewRegistry(store, cfg.LLM.EmbeddingModel)
	retriever := rag.NewRetriever(llm, &cfg.LLM, batcher, registry, rag.RetrieverOptionsFromConfig(cfg.RAG))
	answerer := rag.NewAnswerer(llm, &cfg.LLM)
	locator := rag.NewLocator(cfg.RAG.ImagesDir, loadPageMaps(cfg))
	return rag.NewRAG(retriever, answerer, locator), nil
}

func answerQuery(ctx context.Context, cfg *config.Config, bookKey, query string) error {
	book, err := selectBook(cfg, bookKey)
	if err != nil {
		return err
	}
	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline, err := buildRAG(ctx, cfg, store)
	if err != nil {
		return err
	}
	response, err := pipeline.Query(ctx, book, query)
	if err != nil {
		return err
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Source)
	if response.ImagePath != "" {
		fmt.Printf("%s\n\n", response.ImagePath)
	}

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Content)

	if len(response.Suggestions) > 0 {
		log.Info().Msg("Related: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		for _, s := range response.Suggestions {
			fmt.Printf("- %s\n", s)
		}
	}
	return nil
}

// newChatService builds everything an interactive surface needs. The
// returned func releases the vector and session stores.
func newChatService(ctx context.Context, cfg *config.Config) (*chat.Service, func(), error) {
	allow, err := auth.LoadAllowList(cfg.Auth.AllowList)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Int("users", allow.Len()).Msg("Allow-list loaded")

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := buildRAG(ctx, cfg, store)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	sessions, err := session.NewStore(cfg.Session)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	closeAll := func() {
		if c, ok := sessions.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing session store")
			}
		}
		closeStore()
	}
	return chat.NewService(cfg, pipeline, sessions, allow), closeAll, nil
}

func runServer(ctx context.Context, cfg *config.Config) error {
	svc, closeAll, err := newChatService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if secret, err = helper.GenerateUUID(); err != nil {
			return err
		}
		log.Warn().Msg("No jwt_secret configured, sessions will not survive a restart")
	}
	tokens, err := auth.NewTokens(secret, time.Duration(cfg.Auth.SessionTTLMinutes)*time.Minute)
	if err != nil {
		return err
	}

	server, err := web.NewServer(svc, tokens, web.Options{
		Title:      cfg.Server.Title,
		CookieName: cfg.Auth.CookieName,
		ImagesDir:  cfg.RAG.ImagesDir,
	})
	if err != nil {
		return err
	}
	return server.Run(ctx, cfg.Server.Addr)
}

func runTUI(ctx context.Context, cfg *config.Config) error {
	// The alt screen owns stdout, so logs go to a file.
	f, err := os.OpenFile(tuiLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339}).With().Caller().Logger()

	svc, closeAll, err := newChatService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	_, err = tea.NewProgram(tui.New(svc, cfg.Server.Title), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func exportIndex(ctx context.Context, cfg *config.Config, bookKey, filePath string) error {
	if cfg.RAG.Store != "chromem" {
		return fmt.Errorf("export is only supported for the chromem store")
	}
	book, err := selectBook(cfg, bookKey)
	if err != nil {
		return err
	}
	manager, err := chromemdb.NewVectorDBManager(cfg.RAG.IndexDir)
	if err != nil {
		return err
	}
	if err := manager.Export(ctx, book.Index, filePath, cfg.RAG.EncryptionKey); err != nil {
		return err
	}
	log.Info().Str("index", book.Index).Str("file", filePath).Msg("Index exported")
	return nil
}

func dropVectorIndex(ctx context.Context, cfg *config.Config, name string) error {
	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return rag.NewRegistry(store, "").Drop(ctx, name)
}

func resetSessionQuota(ctx context.Context, cfg *config.Config, id string) error {
	if cfg.Session.Store == "memory" {
		return fmt.Errorf("the memory session store lives inside the server process")
	}
	store, err := session.NewStore(cfg.Session)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	if err := session.ResetQuota(ctx, store, id); err != nil {
		return err
	}
	log.Info().Str("session", id).Msg("Query count reset")
	return nil
}
