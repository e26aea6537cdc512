package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

func getCompany(c *gin.Context) {
	company, err := models.GetCompany(c.Request.Context())
	if err != nil {
		respondError(c, "getCompany", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "", company)
}

func updateCompany(c *gin.Context) {
	var input models.NewCompany
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	company, err := models.UpdateCompany(c.Request.Context(), &input)
	if err != nil {
		respondError(c, "updateCompany", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Company updated successfully", company)
}

func createClient(c *gin.Context) {
	var input models.NewClient
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	client, err := models.CreateClient(c.Request.Context(), &input)
	if err != nil {
		respondError(c, "createClient", err)
		return
	}
	utils.RespondSuccess(c, http.StatusCreated, "Client created successfully", client)
}

func listClients(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}
	clients, err := models.ListClients(c.Request.Context(), c.Query("search"), limit, offset)
	if err != nil {
		respondError(c, "listClients", err)
		return
	}
	if clients == nil {
		clients = []models.Client{}
	}
	utils.RespondSuccess(c, http.StatusOK, "", clients)
}

func getClient(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	client, err := models.GetClient(c.Request.Context(), id)
	if err != nil {
		respondError(c, "getClient", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "", client)
}

func updateClient(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.NewClient
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	client, err := models.UpdateClient(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, "updateClient", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Client updated successfully", client)
}

func deleteClient(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteClient(c.Request.Context(), id); err != nil {
		respondError(c, "deleteClient", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Client deleted successfully", nil)
}

func createItem(c *gin.Context) {
	var input models.NewItem
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	item, err := models.CreateItem(c.Request.Context(), &input)
	if err != nil {
		respondError(c, "createItem", err)
		return
	}
	utils.RespondSuccess(c, http.StatusCreated, "Item created successfully", item)
}

func listItems(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}
	items, err := models.ListItems(c.Request.Context(), c.Query("search"), limit, offset)
	if err != nil {
		respondError(c, "listItems", err)
		return
	}
	if items == nil {
		items = []models.Item{}
	}
	utils.RespondSuccess(c, http.StatusOK, "", items)
}

func getItem(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	item, err := models.GetItem(c.Request.Context(), id)
	if err != nil {
		respondError(c, "getItem", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "", item)
}

func updateItem(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.NewItem
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	item, err := models.UpdateItem(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, "updateItem", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Item updated successfully", item)
}

func deleteItem(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteItem(c.Request.Context(), id); err != nil {
		respondError(c, "deleteItem", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Item deleted successfully", nil)
}
