package main

import (
	"context"
	"log"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/valkey-io/valkey-go"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"rentalchat/internal/adapter/api"
	"rentalchat/internal/adapter/api/handler"
	apimiddleware "rentalchat/internal/adapter/api/middleware"
	"rentalchat/internal/adapter/api/router"
	"rentalchat/internal/adapter/repository"
	domainrepo "rentalchat/internal/domain/repository"
	"rentalchat/internal/infrastructure/broadcast"
	"rentalchat/internal/infrastructure/firebase"
	"rentalchat/internal/infrastructure/ratelimit"
	"rentalchat/internal/infrastructure/storage"
	"rentalchat/internal/infrastructure/websocket"
	"rentalchat/internal/usecase"
	"rentalchat/pkg/config"
	"rentalchat/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var opts []option.ClientOption
	if cfg.ServiceAccountJSON != "" {
		log.Printf("Using Firebase service account from environment variable")
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	} else if cfg.ServiceAccountPath != "" {
		log.Printf("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
		opts = append(opts, option.WithCredentialsFile(cfg.ServiceAccountPath))
	}

	var (
		messages     domainrepo.MessageStore
		profiles     domainrepo.ProfileRepository
		activity     domainrepo.ChatActivityRepository
		verifier     firebase.TokenVerifier
		firebaseAuth handler.ConnectionTester
		devTokens    *handler.DevTokenHandler
	)

	if cfg.MessageStore == "firestore" {
		firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase: %v", err)
		}

		authClient, err := firebaseApp.Auth(ctx)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase Auth: %v", err)
		}

		firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
		if err != nil {
			log.Fatalf("Failed to create Firestore client: %v", err)
		}
		defer firestoreClient.Close()

		messages = repository.NewFirestoreMessageStore(firestoreClient)
		profiles = repository.NewFirestoreProfileRepository(firestoreClient)
		activity = repository.NewFirestoreChatActivityRepository(firestoreClient)

		firebaseAuthClient := firebase.NewFirebaseAuthClient(authClient)
		verifier = firebaseAuthClient
		firebaseAuth = firebaseAuthClient
	} else {
		if !cfg.IsDevelopment() {
			log.Fatalf("MESSAGE_STORE=%s is only supported in development", cfg.MessageStore)
		}
		log.Printf("Using in-memory message store and development tokens")

		users := repository.NewMemoryUserRepository()
		messages = repository.NewMemoryMessageStore()
		profiles = users
		activity = users
		verifier = firebase.DevTokenVerifier{}
		devTokens = handler.NewDevTokenHandler(users, users)
	}

	var avatars usecase.AvatarResolver = storage.PublicURLResolver{BucketName: cfg.StorageBucket}
	if cfg.StorageBucket != "" && cfg.MessageStore == "firestore" {
		storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, cfg.AvatarURLTTL, opts...)
		if err != nil {
			log.Fatalf("Failed to initialize Cloud Storage: %v", err)
		}
		defer storageClient.Close()
		avatars = storageClient
	}

	var (
		sessions    domainrepo.SessionStore
		broadcaster broadcast.Broadcaster
	)
	if cfg.UseValkey() {
		valkeyClient, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.ValkeyAddress}})
		if err != nil {
			log.Fatalf("Failed to connect to valkey at %s: %v", cfg.ValkeyAddress, err)
		}
		defer valkeyClient.Close()

		sessions = repository.NewValkeySessionStore(valkeyClient, cfg.SessionTTL)
		broadcaster = broadcast.NewValkeyBroadcaster(valkeyClient)
	} else {
		log.Printf("VALKEY_ADDRESS not set, session state stays in this process")
		sessions = repository.NewMemorySessionStore()
		broadcaster = broadcast.NewBus()
	}

	limiter := ratelimit.NewRateLimiter(cfg.SendRateLimit)
	limiter.StartCleanupRoutine(ctx)

	registry := usecase.NewSessionRegistry(usecase.SessionDeps{
		Messages:    messages,
		Sessions:    sessions,
		Broadcaster: broadcaster,
		Activity:    activity,
		Profiles:    usecase.NewProfileCache(profiles, avatars),
		Limiter:     limiter,
	})
	registry.StartSweeper(ctx, cfg.SessionTTL)
	defer registry.StopAll()

	wsManager := websocket.NewManager()

	authMiddleware := apimiddleware.NewAuthMiddleware(verifier)

	handler.Setup(registry, wsManager, authMiddleware, firebaseAuth, cfg.AllowedOrigins)

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins(cfg.AllowedOrigins),
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAuthorization,
			handler.HeaderSessionID,
			handler.HeaderTabID,
		},
	}))

	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = response.HTTPErrorHandler

	router.Setup(e, authMiddleware, limiter)
	router.SetupDevRouter(e, devTokens, cfg.IsDevelopment())

	log.Printf("Starting server on port %s...", cfg.ServerPort)
	e.Logger.Fatal(e.Start(":" + cfg.ServerPort))
}

func allowOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
