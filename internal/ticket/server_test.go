package ticket

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/example/billsscan/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		repo        *Repository
		remote      *mockRemote
		parser      *mockParser
		storage     *mockStorage
		service     *Service
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, repo, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	BeforeEach(func() {
		remote = newMockRemote()
		repo = NewRepository(newMockCache(), remote, nil)
		parser = newMockParser()
		parser.result = &scanning.ParseResult{
			Merchant: "Cafe X",
			Date:     "2024-05-01",
			Time:     "12:30",
			LineItems: []scanning.ParsedItem{
				{Quantity: 1, Description: "latte", UnitPrice: dec("3.50"), Subtotal: dec("3.50")},
			},
		}
		storage = newMockStorage()
		service = NewServiceWithDeps(repo, parser, storage,
			&fixedIDGenerator{}, &fixedTimeSource{})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	listTickets := func(path string) ([]Ticket, *http.Response) {
		resp, err := http.Get(ghttpServer.URL() + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var tickets []Ticket
		if resp.StatusCode == http.StatusOK {
			Expect(json.NewDecoder(resp.Body).Decode(&tickets)).To(Succeed())
		}
		return tickets, resp
	}

	uploadReceipt := func(filename string) *http.Response {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("image-data"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/receipts", &buf)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("handleListTickets", func() {
		BeforeEach(func() {
			repo.Add(makeTicket("1000", "Cafe X", "img-1.jpg", "3.50"))
			repo.Add(makeTicket("2000", "Market Y", "img-2.jpg", "1.20"))
		})

		It("should return the canonical collection newest first", func() {
			tickets, resp := listTickets("/api/tickets")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(tickets).To(HaveLen(2))
			Expect(tickets[0].ID).To(Equal("2000"))
		})
	})

	Describe("handleRecentTickets", func() {
		BeforeEach(func() {
			repo.Add(makeTicket("1000", "Cafe X", "img-1.jpg", "3.50"))
			repo.Add(makeTicket("2000", "Market Y", "img-2.jpg", "1.20"))
			repo.Add(makeTicket("3000", "Bakery Z", "img-3.jpg", "2.00"))
		})

		It("should bound the result to the limit", func() {
			tickets, resp := listTickets("/api/tickets/recent?limit=2")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(tickets).To(HaveLen(2))
			Expect(tickets[0].ID).To(Equal("3000"))
		})

		It("should reject an invalid limit", func() {
			_, resp := listTickets("/api/tickets/recent?limit=banana")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleTicketCategories", func() {
		BeforeEach(func() {
			repo.Add(makeTicket("1000", "Cafe X", "img-1.jpg", "3.50"))
			repo.Add(makeTicket("2000", "Cafe X", "img-2.jpg", "1.20"))
		})

		It("should group tickets by merchant", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/tickets/categories")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var groups []MerchantGroup
			Expect(json.NewDecoder(resp.Body).Decode(&groups)).To(Succeed())
			Expect(groups).To(HaveLen(1))
			Expect(groups[0].Merchant).To(Equal("Cafe X"))
			Expect(groups[0].Tickets).To(HaveLen(2))
		})
	})

	Describe("handleSearchTickets", func() {
		BeforeEach(func() {
			repo.Add(makeTicket("1000", "Cafe X", "img-1.jpg", "3.50"))
			repo.Add(makeTicket("2000", "Market Y", "img-2.jpg", "1.20"))
		})

		It("should filter by the query", func() {
			tickets, resp := listTickets("/api/tickets/search?q=market")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(tickets).To(HaveLen(1))
			Expect(tickets[0].Merchant).To(Equal("Market Y"))
		})

		It("should return everything for an empty query", func() {
			tickets, _ := listTickets("/api/tickets/search")
			Expect(tickets).To(HaveLen(2))
		})
	})

	Describe("handleRefreshTickets", func() {
		When("the remote store responds", func() {
			BeforeEach(func() {
				remote.tickets = []Ticket{makeTicket("3000", "Bakery Z", "img-3.jpg", "2.00")}
			})

			It("should return the reconciled collection", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/tickets/refresh", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var tickets []Ticket
				Expect(json.NewDecoder(resp.Body).Decode(&tickets)).To(Succeed())
				Expect(tickets).To(HaveLen(1))
				Expect(tickets[0].ID).To(Equal("3000"))
			})
		})

		When("the remote store is unavailable", func() {
			BeforeEach(func() {
				remote.fetchErr = errors.New("no connectivity")
				repo.Add(makeTicket("1000", "Cafe X", "img-1.jpg", "3.50"))
			})

			It("should answer with a gateway error and keep local tickets", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/tickets/refresh", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(repo.All()).To(HaveLen(1))
			})
		})
	})

	Describe("handleUploadReceipt", func() {
		It("should create a ticket from the uploaded image", func() {
			resp := uploadReceipt("receipt.jpg")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var t Ticket
			Expect(json.NewDecoder(resp.Body).Decode(&t)).To(Succeed())
			Expect(t.Merchant).To(Equal("Cafe X"))
			Expect(repo.All()).To(HaveLen(1))
		})

		When("parsing fails", func() {
			BeforeEach(func() {
				parser.parseErr = errors.New("unreadable receipt")
			})

			It("should answer with an actionable error and create nothing", func() {
				resp := uploadReceipt("receipt.jpg")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("clearer photo"))
				Expect(repo.All()).To(BeEmpty())
			})
		})

		When("no file is provided", func() {
			It("should answer with bad request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", "multipart/form-data; boundary=x", bytes.NewBufferString("--x--\r\n"))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleDeleteTicket", func() {
		BeforeEach(func() {
			repo.Add(makeTicket("1000", "Cafe X", "img-1.jpg", "3.50"))
		})

		It("should remove the ticket", func() {
			req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/tickets/1000", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(repo.All()).To(BeEmpty())
		})
	})

	Describe("handleTicketImage", func() {
		It("should answer not found for unknown tickets", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/tickets/9999/image")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/tickets")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/tickets", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/tickets", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:wrong")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})
})
