package receipt

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-sage/internal/scanning"
	"github.com/zombor/receipt-sage/internal/stores"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		processor   *mockProcessor
		service     *Service
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server := NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		processor = newMockProcessor()
		resolver := stores.NewResolver(stores.NewNormalizer(stores.DefaultThreshold), stores.NewStaticSource("Whole Foods Market"))
		service = NewServiceWithDeps(db, processor, storage, resolver,
			&mockIDGenerator{id: "test-id"},
			&mockTimeSource{now: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
		)
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	request := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	get := func(path string) *http.Response {
		return request(http.MethodGet, path, nil, "")
	}

	upload := func(names ...string) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		for _, name := range names {
			part, err := writer.CreateFormFile("file", name)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("data " + name))
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(writer.Close()).To(Succeed())
		return request(http.MethodPost, "/api/receipts", &b, writer.FormDataContentType())
	}

	decode := func(resp *http.Response, v any) {
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed())
	}

	Describe("GET /api/receipts", func() {
		It("should return an empty array when there are no receipts", func() {
			resp := get("/api/receipts")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(MatchJSON(`[]`))
		})

		It("should return all receipts", func() {
			db.receipts["a"] = &Receipt{ID: "a"}
			db.receipts["b"] = &Receipt{ID: "b"}

			var receipts []Receipt
			decode(get("/api/receipts"), &receipts)
			Expect(receipts).To(HaveLen(2))
		})

		It("should return status Internal Server Error when the database fails", func() {
			db.listErr = io.ErrUnexpectedEOF
			resp := get("/api/receipts")
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("POST /api/receipts", func() {
		When("upload succeeds", func() {
			It("should return the created receipt", func() {
				resp := upload("top.jpg", "bottom.png")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var receipt Receipt
				decode(resp, &receipt)
				Expect(receipt.ID).To(Equal("test-id"))
				Expect(receipt.StoreNormalized).To(Equal("Whole Foods Market"))
				Expect(receipt.Files).To(HaveLen(2))
			})

			It("should pass every file in order with its content type", func() {
				upload("top.jpg", "bottom.png", "scan.pdf")

				Expect(processor.images).To(HaveLen(1))
				images := processor.images[0]
				Expect(images).To(HaveLen(3))
				Expect(images[0].Name).To(Equal("top.jpg"))
				Expect(images[0].ContentType).To(Equal("image/jpeg"))
				Expect(images[1].ContentType).To(Equal("image/png"))
				Expect(images[2].ContentType).To(Equal("application/pdf"))
				Expect(images[2].Data).To(Equal([]byte("data scan.pdf")))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				resp := upload()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(ContainSubstring("No file was selected"))
			})
		})

		When("the body is not multipart", func() {
			It("should return status Bad Request", func() {
				resp := request(http.MethodPost, "/api/receipts", bytes.NewBufferString("{}"), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				processor.result = scanning.FailedWithRaw[*scanning.StructuredReceipt](&scanning.Error{
					Stage:   scanning.StageStructuring,
					Kind:    scanning.ErrValidation,
					Message: "receipt does not match schema",
				}, `{"items": 3}`)
			})

			It("should return the stage and raw response", func() {
				resp := upload("top.jpg")
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var body map[string]string
				decode(resp, &body)
				Expect(body["stage"]).To(Equal("structuring"))
				Expect(body["raw_response"]).To(Equal(`{"items": 3}`))
				Expect(body["error"]).To(ContainSubstring("validation failed"))
			})
		})

		When("saving fails", func() {
			It("should return status Internal Server Error", func() {
				storage.saveErr = io.ErrShortWrite
				resp := upload("top.jpg")
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("GET /api/receipts/{id}", func() {
		It("should return the receipt", func() {
			db.receipts["test-id"] = &Receipt{ID: "test-id", Store: "Target"}

			var receipt Receipt
			decode(get("/api/receipts/test-id"), &receipt)
			Expect(receipt.Store).To(Equal("Target"))
		})

		It("should return status Not Found for an unknown receipt", func() {
			resp := get("/api/receipts/nonexistent")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/receipts/{id}/files/{index}", func() {
		BeforeEach(func() {
			storage.files["test-id_01_a.png"] = []byte("png data")
			db.receipts["test-id"] = &Receipt{
				ID:    "test-id",
				Files: []File{{Name: "a.png", Path: "test-id_01_a.png", ContentType: "image/png"}},
			}
		})

		It("should return the file with its content type", func() {
			resp := get("/api/receipts/test-id/files/0")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, _ := io.ReadAll(resp.Body)
			Expect(body).To(Equal([]byte("png data")))
		})

		It("should return status Not Found for an index out of range", func() {
			Expect(get("/api/receipts/test-id/files/1").StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return status Bad Request for a non-numeric index", func() {
			Expect(get("/api/receipts/test-id/files/first").StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("DELETE /api/receipts/{id}", func() {
		It("should delete the receipt", func() {
			db.receipts["test-id"] = &Receipt{ID: "test-id"}

			resp := request(http.MethodDelete, "/api/receipts/test-id", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).NotTo(HaveKey("test-id"))
		})

		It("should return status Not Found for an unknown receipt", func() {
			resp := request(http.MethodDelete, "/api/receipts/nonexistent", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/stores", func() {
		It("should list the canonical store names", func() {
			var names []string
			decode(get("/api/stores"), &names)
			Expect(names).To(Equal([]string{"Whole Foods Market"}))
		})
	})

	Describe("GET /api/stores/analyze", func() {
		It("should report the closest stores", func() {
			resp := get("/api/stores/analyze?name=Whole+Foods&top=3")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var analysis stores.Analysis
			decode(resp, &analysis)
			Expect(analysis.Input).To(Equal("Whole Foods"))
			Expect(analysis.Matched).To(BeTrue())
			Expect(analysis.Matches).To(Equal([]stores.Match{{Name: "Whole Foods Market", Score: 76}}))
		})

		It("should require a name", func() {
			Expect(get("/api/stores/analyze").StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject a non-positive top", func() {
			Expect(get("/api/stores/analyze?name=Target&top=0").StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp := get("/api/receipts")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should reject wrong credentials", func() {
			req, _ := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/receipts", nil)
			req.SetBasicAuth("user", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept the configured credentials", func() {
			req, _ := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/receipts", nil)
			req.SetBasicAuth("user", "pass")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := request(http.MethodOptions, "/api/receipts", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
		})
	})
})
